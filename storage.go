/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// objectStore is the binary object storage collaborator: upload by
// path, get a public URL back, read the bytes for export.
type objectStore interface {
	Put(objectPath string, data []byte) (publicURL string, err error)
	Get(objectPath string) ([]byte, error)
	PublicURL(objectPath string) string
}

var errObjectNotFound = errors.New("object not found")

// diskStore keeps uploads under a local directory and serves them from
// /uploads/. Paths are flattened to a single level per event so a
// crafted object path cannot escape the root.
type diskStore struct {
	root   string
	prefix string
}

func newDiskStore(root, prefix string) (*diskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &diskStore{root: root, prefix: prefix}, nil
}

func (d *diskStore) clean(objectPath string) (string, error) {
	parts := strings.Split(path.Clean("/"+objectPath), "/")
	safe := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		safe = append(safe, p)
	}
	if len(safe) == 0 {
		return "", errObjectNotFound
	}
	return filepath.Join(safe...), nil
}

func (d *diskStore) Put(objectPath string, data []byte) (string, error) {
	rel, err := d.clean(objectPath)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(d.root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", err
	}
	return d.PublicURL(objectPath), nil
}

func (d *diskStore) Get(objectPath string) ([]byte, error) {
	rel, err := d.clean(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.root, rel))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errObjectNotFound
	}
	return data, err
}

func (d *diskStore) PublicURL(objectPath string) string {
	return d.prefix + "/uploads/" + strings.TrimPrefix(path.Clean("/"+objectPath), "/")
}

// fetchImageBytes resolves a card image URL to raw bytes: local upload
// URLs read straight from the object store, anything else is fetched
// over HTTP with a bounded timeout.
func fetchImageBytes(store objectStore, rawURL, prefix string) ([]byte, error) {
	if p, ok := strings.CutPrefix(rawURL, prefix+"/uploads/"); ok {
		return store.Get(p)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}
