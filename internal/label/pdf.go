// Package label renders one fixed-size PDF label per printed unit.
package label

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/orrn/labelrelay/internal/core"
)

type Layout struct {
	WidthMM  float64
	HeightMM float64
	MarginMM float64
}

func DefaultLayout() Layout {
	return Layout{WidthMM: 57, HeightMM: 32, MarginMM: 2}
}

type PDFRenderer struct {
	layout Layout
}

func NewPDFRenderer(layout Layout) *PDFRenderer {
	def := DefaultLayout()
	if layout.WidthMM <= 0 {
		layout.WidthMM = def.WidthMM
	}
	if layout.HeightMM <= 0 {
		layout.HeightMM = def.HeightMM
	}
	if layout.MarginMM <= 0 {
		layout.MarginMM = def.MarginMM
	}
	return &PDFRenderer{layout: layout}
}

func (r *PDFRenderer) Layout() Layout { return r.layout }

// Render draws the label: order header, product, variant, then the note in
// whatever space is left. Text that does not fit is cut, never wrapped onto a
// second page.
func (r *PDFRenderer) Render(item core.LineItem, info core.OrderInfo) ([]byte, error) {
	l := r.layout
	orientation := "P"
	if l.WidthMM > l.HeightMM {
		orientation = "L"
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: orientation,
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: l.WidthMM, Ht: l.HeightMM},
	})
	pdf.SetMargins(l.MarginMM, l.MarginMM, l.MarginMM)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(fmt.Sprintf("Order #%s", info.Number), true)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	inner := l.WidthMM - 2*l.MarginMM
	bottom := l.HeightMM - l.MarginMM
	y := l.MarginMM

	line := func(style string, size, height float64, text string, maxLines int) {
		if text == "" || y+height > bottom {
			return
		}
		pdf.SetFont("Helvetica", style, size)
		lines := pdf.SplitText(text, inner)
		if maxLines > 0 && len(lines) > maxLines {
			lines = lines[:maxLines]
		}
		for _, ln := range lines {
			if y+height > bottom {
				return
			}
			pdf.SetXY(l.MarginMM, y)
			pdf.CellFormat(inner, height, tr(ln), "", 0, "L", false, 0, "")
			y += height
		}
	}

	header := "#" + info.Number
	if info.CustomerName != "" {
		header += "  " + info.CustomerName
	}
	line("B", 8, 3.5, header, 1)
	line("B", 11, 4.6, item.Title, 2)
	line("", 9, 3.8, item.VariantTitle, 1)
	line("I", 7, 3, strings.TrimSpace(info.Note), 0)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
