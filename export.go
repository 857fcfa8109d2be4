// Printable card export.
//
// The layout engine is pure geometry: an A4-ish portrait page (595x842
// units, 36-unit margin) holds a 3x4 grid of cells, twelve cards per
// page. The first eight event images are each placed twice, mirroring
// the two physical cards per key in a dealt deck. Every image is scaled
// uniformly to fit its cell and centered.
//
// The PDF binary encoder is an external collaborator consumed through
// the pdfEncoder interface; the built-in implementation writes just
// enough PDF for this one document shape. A card image that fails both
// raster decoders is skipped and logged, never aborting the rest of
// the export.

package main

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
)

const (
	exportPageW  = 595.0
	exportPageH  = 842.0
	exportMargin = 36.0
	exportCols   = 3
	exportRows   = 4
)

// placement is one card cell: which page it falls on and the cell box
// in top-left-origin page coordinates.
type placement struct {
	Page int
	Row  int
	Col  int
	X    float64
	Y    float64
	W    float64
	H    float64
}

func cellSize() (w, h float64) {
	return (exportPageW - 2*exportMargin) / exportCols,
		(exportPageH - 2*exportMargin) / exportRows
}

// cardPlacements computes the grid position for each of n card slots.
func cardPlacements(n int) []placement {
	cw, ch := cellSize()
	perPage := exportCols * exportRows

	out := make([]placement, n)
	for i := range out {
		col := i % exportCols
		row := (i / exportCols) % exportRows
		out[i] = placement{
			Page: i / perPage,
			Row:  row,
			Col:  col,
			X:    exportMargin + float64(col)*cw,
			Y:    exportMargin + float64(row)*ch,
			W:    cw,
			H:    ch,
		}
	}
	return out
}

// fitImage scales an image of intrinsic size imgW x imgH uniformly into
// a cellW x cellH cell and centers it, returning the drawn size and the
// offset from the cell origin.
func fitImage(cellW, cellH, imgW, imgH float64) (w, h, dx, dy float64) {
	if imgW <= 0 || imgH <= 0 {
		return 0, 0, 0, 0
	}

	scale := cellW / imgW
	if s := cellH / imgH; s < scale {
		scale = s
	}

	w = imgW * scale
	h = imgH * scale
	return w, h, (cellW - w) / 2, (cellH - h) / 2
}

// decodeRaster tries JPEG first, then PNG. The two cover everything
// guests actually upload; anything else fails the one image, not the
// document.
func decodeRaster(data []byte) (image.Image, error) {
	img, jpegErr := jpeg.Decode(bytes.NewReader(data))
	if jpegErr == nil {
		return img, nil
	}
	img, pngErr := png.Decode(bytes.NewReader(data))
	if pngErr == nil {
		return img, nil
	}
	return nil, fmt.Errorf("decode failed (jpeg: %v; png: %v)", jpegErr, pngErr)
}

// pdfEncoder is the narrow surface the export needs from a PDF writer.
// Coordinates passed to DrawImage are PDF-space: origin bottom-left.
type pdfEncoder interface {
	AddPage(w, h float64)
	// EmbedImage registers raster bytes for drawing and reports the
	// image's intrinsic pixel dimensions.
	EmbedImage(data []byte) (ref string, w, h int, err error)
	DrawImage(ref string, x, y, w, h float64)
	Output() ([]byte, error)
}

type pdfImage struct {
	name string
	w    int
	h    int
	rgb  []byte
}

type pdfPage struct {
	w       float64
	h       float64
	content bytes.Buffer
}

// miniPDF writes a single-purpose uncompressed-structure PDF: pages of
// one fixed size, flate-compressed RGB image XObjects, nothing else.
type miniPDF struct {
	pages  []*pdfPage
	images []pdfImage
}

func newMiniPDF() *miniPDF {
	return &miniPDF{}
}

func (p *miniPDF) AddPage(w, h float64) {
	p.pages = append(p.pages, &pdfPage{w: w, h: h})
}

func (p *miniPDF) EmbedImage(data []byte) (string, int, int, error) {
	img, err := decodeRaster(data)
	if err != nil {
		return "", 0, 0, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	rgb := make([]byte, 0, w*h*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			rgb = append(rgb, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}

	name := fmt.Sprintf("Im%d", len(p.images)+1)
	p.images = append(p.images, pdfImage{name: name, w: w, h: h, rgb: rgb})
	return name, w, h, nil
}

func (p *miniPDF) DrawImage(ref string, x, y, w, h float64) {
	if len(p.pages) == 0 {
		return
	}
	page := p.pages[len(p.pages)-1]
	fmt.Fprintf(&page.content, "q %.2f 0 0 %.2f %.2f %.2f cm /%s Do Q\n", w, h, x, y, ref)
}

func (p *miniPDF) Output() ([]byte, error) {
	var buf bytes.Buffer
	offsets := make(map[int]int)

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	buf.WriteString("%PDF-1.4\n")

	// 1: catalog, 2: pages, then one object per image, then per page a
	// page object and a content stream.
	imageBase := 3
	pageBase := imageBase + len(p.images)

	kids := ""
	for i := range p.pages {
		kids += fmt.Sprintf("%d 0 R ", pageBase+2*i)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(p.pages)))

	for i, img := range p.images {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		if _, err := zw.Write(img.rgb); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}

		num := imageBase + i
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /XObject /Subtype /Image /Width %d /Height %d "+
			"/ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /FlateDecode /Length %d >>\nstream\n",
			num, img.w, img.h, z.Len())
		buf.Write(z.Bytes())
		buf.WriteString("\nendstream\nendobj\n")
	}

	xobjects := ""
	for i, img := range p.images {
		xobjects += fmt.Sprintf("/%s %d 0 R ", img.name, imageBase+i)
	}

	for i, page := range p.pages {
		pageNum := pageBase + 2*i
		contentNum := pageNum + 1

		writeObj(pageNum, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %.0f %.0f] /Resources << /XObject << %s>> >> /Contents %d 0 R >>",
			page.w, page.h, xobjects, contentNum))

		offsets[contentNum] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Length %d >>\nstream\n", contentNum, page.content.Len())
		buf.Write(page.content.Bytes())
		buf.WriteString("endstream\nendobj\n")
	}

	objCount := pageBase + 2*len(p.pages)
	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", objCount)
	for num := 1; num < objCount; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", objCount, xrefPos)

	return buf.Bytes(), nil
}

// buildCardExport assembles the printable document: the first pairCap
// images, each placed twice, laid out on as many pages as the grid
// needs. Images that cannot be fetched or decoded are skipped; the
// count of skipped images is returned alongside the document.
func buildCardExport(enc pdfEncoder, images []CardImage, pairCap int, fetch func(CardImage) ([]byte, error)) (skipped int, err error) {
	if len(images) > pairCap {
		images = images[:pairCap]
	}

	type embedded struct {
		ref string
		w   int
		h   int
		ok  bool
	}
	refs := make([]embedded, len(images))
	for i, img := range images {
		data, ferr := fetch(img)
		if ferr != nil {
			skipped++
			continue
		}
		ref, w, h, eerr := enc.EmbedImage(data)
		if eerr != nil {
			skipped++
			continue
		}
		refs[i] = embedded{ref: ref, w: w, h: h, ok: true}
	}

	// Two cells per image: the export mirrors the two physical cards
	// sharing each key.
	cards := make([]int, 0, 2*len(images))
	for i := range images {
		cards = append(cards, i, i)
	}

	placements := cardPlacements(len(cards))
	pagesAdded := 0
	for idx, pl := range placements {
		for pagesAdded <= pl.Page {
			enc.AddPage(exportPageW, exportPageH)
			pagesAdded++
		}

		ref := refs[cards[idx]]
		if !ref.ok {
			continue
		}

		w, h, dx, dy := fitImage(pl.W, pl.H, float64(ref.w), float64(ref.h))
		// Convert the top-left-origin cell box to PDF coordinates.
		x := pl.X + dx
		y := exportPageH - (pl.Y + dy) - h
		enc.DrawImage(ref.ref, x, y, w, h)
	}

	return skipped, nil
}

// serveCardExport renders the event's printable deck as a PDF download.
// Admin-gated; the filename derives from the event id.
func serveCardExport(cfg *Config, em *EventManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		eventID := ps.ByName("eventid")
		if !em.authorized(r, eventID) {
			http.Error(w, "admin unlock required", http.StatusForbidden)
			return
		}

		images, err := em.store.Images(eventID)
		if err != nil {
			http.Error(w, "no such event", http.StatusNotFound)
			return
		}

		enc := newMiniPDF()
		skipped, err := buildCardExport(enc, images, cfg.pairCap, func(img CardImage) ([]byte, error) {
			return fetchImageBytes(em.objects, img.URL, cfg.prefix)
		})
		if err != nil {
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		if skipped > 0 {
			metricExportImagesSkipped.Add(float64(skipped))
			logf(cfg, "EXPORT: Skipped %d undecodable images for %s", skipped, eventID)
		}

		data, err := enc.Output()
		if err != nil {
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}

		metricExports.Inc()

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Disposition", `attachment; filename="cards-`+eventID+`.pdf"`)
		securityHeaders(cfg, w)
		_, _ = w.Write(data)

		logf(cfg, "EXPORT: Card set for %s (%s) to %s in %s",
			eventID,
			humanReadableSize(int64(len(data))),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
