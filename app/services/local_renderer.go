package services

import (
	"bytes"
	"context"
	"fmt"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"golang.org/x/image/font/basicfont"
)

const (
	previewWidth  = 1200
	previewMargin = 48
	previewLine   = 26
)

// LocalRenderer draws the compiled report in-process instead of screenshotting the
// print route. Used where no headless-browser service is available.
type LocalRenderer struct{}

func NewLocalRenderer() *LocalRenderer {
	return &LocalRenderer{}
}

func (r *LocalRenderer) Render(ctx context.Context, req RenderRequest) (*RenderedReport, error) {
	if req.Document.Title == "" {
		return nil, fmt.Errorf("report document has no title")
	}
	pdf, err := r.renderPDF(req.Document)
	if err != nil {
		return nil, fmt.Errorf("pdf render failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	png, err := r.renderPNG(req.Document)
	if err != nil {
		return nil, fmt.Errorf("png render failed: %w", err)
	}
	return &RenderedReport{PDF: pdf, PNG: png}, nil
}

func (r *LocalRenderer) renderPDF(doc ReportDocument) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		WithLeftMargin(10).
		WithTopMargin(10).
		WithRightMargin(10).
		Build()

	m := maroto.New(cfg)

	m.AddRow(16,
		text.NewCol(12, doc.Title, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)
	if doc.Subtitle != "" {
		m.AddRow(10, text.NewCol(12, doc.Subtitle, props.Text{Size: 10}))
	}

	for _, row := range doc.Rows {
		m.AddRow(8,
			text.NewCol(6, row.Label, props.Text{Size: 10, Style: fontstyle.Bold}),
			text.NewCol(6, row.Value, props.Text{Size: 10, Align: align.Right}),
		)
	}

	if len(doc.Notes) > 0 {
		m.AddRow(12, text.NewCol(12, "Notes", props.Text{Size: 12, Style: fontstyle.Bold, Top: 4}))
		for _, note := range doc.Notes {
			m.AddRow(8, text.NewCol(12, note, props.Text{Size: 9}))
		}
	}

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return out.GetBytes(), nil
}

func (r *LocalRenderer) renderPNG(doc ReportDocument) ([]byte, error) {
	lines := 3 + len(doc.Rows) + len(doc.Notes)
	if len(doc.Notes) > 0 {
		lines++
	}
	height := 2*previewMargin + lines*previewLine

	dc := gg.NewContext(previewWidth, height)
	dc.SetColor(color.White)
	dc.Clear()

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(color.Black)

	y := float64(previewMargin)
	dc.DrawString(doc.Title, previewMargin, y)
	y += previewLine
	if doc.Subtitle != "" {
		dc.SetColor(color.Gray{Y: 90})
		dc.DrawString(doc.Subtitle, previewMargin, y)
		dc.SetColor(color.Black)
	}
	y += previewLine

	dc.SetColor(color.Gray{Y: 224})
	dc.DrawRectangle(previewMargin, y-previewLine/2, previewWidth-2*previewMargin, 1)
	dc.Fill()
	dc.SetColor(color.Black)
	y += previewLine / 2

	for _, row := range doc.Rows {
		dc.DrawString(row.Label, previewMargin, y)
		dc.DrawStringAnchored(row.Value, previewWidth-previewMargin, y, 1, 0)
		y += previewLine
	}

	if len(doc.Notes) > 0 {
		y += previewLine / 2
		dc.DrawString("Notes", previewMargin, y)
		y += previewLine
		for _, note := range doc.Notes {
			dc.DrawString("- "+note, previewMargin, y)
			y += previewLine
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}
