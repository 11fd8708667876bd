// Package report renders a final jingle report into a PDF document.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"audiobrand-backend/internal/analyses"
)

const (
	pageMargin = 25.4
	bodyWidth  = 210 - 2*pageMargin
	lineHeight = 5.5
	emptyValue = "-"
)

var (
	accent  = rgb{255, 140, 0}
	ink     = rgb{51, 51, 51}
	muted   = rgb{85, 85, 85}
	inverse = rgb{255, 255, 255}
	coverBg = rgb{45, 31, 14}
)

type rgb struct{ r, g, b int }

// Renderer produces an A4 report with a cover page and three sections.
type Renderer struct {
	Now func() time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{Now: time.Now}
}

// Render lays out the report. title is the brand name shown on the cover.
func (r *Renderer) Render(ctx context.Context, rep analyses.FinalReport, title string) ([]byte, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("report title is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now
	if r != nil && r.Now != nil {
		now = r.Now
	}
	generated := now()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetTitle(title+" - Jingle Report", true)
	pdf.SetCreator("audiobrand", true)
	pdf.SetCreationDate(generated)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	w := &writer{pdf: pdf, tr: tr}
	w.cover(title, generated)
	w.brandFindings(rep.BrandFindings)
	w.rationale(rep.ArtisticRationale)
	w.jingle(rep.Jingle, rep.CompositionPlan)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type writer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (w *writer) color(c rgb) { w.pdf.SetTextColor(c.r, c.g, c.b) }

func (w *writer) cover(title string, generated time.Time) {
	pdf := w.pdf
	pdf.AddPage()
	pageW, pageH := pdf.GetPageSize()
	pdf.SetFillColor(coverBg.r, coverBg.g, coverBg.b)
	pdf.Rect(0, 0, pageW, pageH, "F")

	w.color(inverse)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, w.tr("Brand Intelligence"), "", 1, "R", false, 0, "")

	pdf.SetY(pageH / 3)
	pdf.SetFont("Helvetica", "B", 30)
	pdf.MultiCell(0, 14, w.tr(strings.ToUpper(title)), "", "C", false)
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 20)
	pdf.CellFormat(0, 10, "Jingle Report", "", 1, "C", false, 0, "")
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, "Creative rationale and production guidance for a sonic signature", "", "C", false)

	pdf.SetY(pageH - pageMargin - 10)
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, "Generated on "+generated.Format("January 2, 2006 at 3:04 PM"), "", 1, "C", false, 0, "")
}

func (w *writer) heading(text string) {
	pdf := w.pdf
	w.color(rgb{0, 0, 0})
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, w.tr(text), "", 1, "L", false, 0, "")
	pdf.SetDrawColor(accent.r, accent.g, accent.b)
	pdf.SetLineWidth(0.6)
	y := pdf.GetY()
	pdf.Line(pageMargin, y, pageMargin+bodyWidth, y)
	pdf.Ln(4)
}

func (w *writer) label(text string) {
	w.color(accent)
	w.pdf.SetFont("Helvetica", "B", 11)
	w.pdf.CellFormat(0, 7, w.tr(text), "", 1, "L", false, 0, "")
}

func (w *writer) body(text string) {
	w.color(ink)
	w.pdf.SetFont("Helvetica", "", 10)
	w.pdf.MultiCell(0, lineHeight, w.tr(orEmpty(text)), "", "J", false)
	w.pdf.Ln(2)
}

func (w *writer) field(name, value string) {
	w.label(name)
	w.body(value)
}

func (w *writer) brandFindings(f analyses.BrandFindings) {
	w.pdf.AddPage()
	w.heading("1) Brand Findings")
	w.field("Positioning", f.Positioning)
	w.field("Target Audience", f.TargetAudience)
	w.field("Tone & Personality", f.TonePersonality)
	w.field("Visual & Tactile Cues", f.VisualTactileCues)
	w.field("Brand Promise", f.BrandPromise)
	w.field("Practical Constraints", f.PracticalConstraints)
}

func (w *writer) rationale(text string) {
	w.pdf.AddPage()
	w.heading("2) Artistic Rationale")
	for _, para := range paragraphs(text) {
		w.body(para)
	}
}

func (w *writer) jingle(j analyses.Jingle, plan *analyses.CompositionPlan) {
	pdf := w.pdf
	pdf.AddPage()
	w.heading("3) Final Jingle")
	w.field("Concept Statement", j.ConceptStatement)

	w.label("Musical Descriptions")
	for n := 1; n <= analyses.DescriptionCount; n++ {
		d := j.Description(n)
		if d == nil || strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.MusicalElements) == "" {
			continue
		}
		w.color(rgb{0, 0, 0})
		pdf.SetFont("Helvetica", "B", 12)
		pdf.MultiCell(0, 7, w.tr(fmt.Sprintf("%d) %s", n, d.Title)), "", "L", false)
		w.sub("Musical Elements", stripTags(d.MusicalElements), "")
		if d.Feel != "" {
			w.sub("Feel", d.Feel, "")
		}
		if d.EmotionalEffect != "" {
			w.sub("Emotional Effect", d.EmotionalEffect, "I")
		}
		pdf.Ln(2)
	}

	w.field("Keywords", strings.Join(j.Keywords, ", "))
	w.field("How It Sounds", j.Imagery)

	w.label("Why This Will Work")
	if len(j.WhyItWorks) == 0 {
		w.body(emptyValue)
	}
	for _, reason := range j.WhyItWorks {
		w.color(ink)
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, lineHeight, w.tr("- "+reason), "", "L", false)
	}

	if plan != nil {
		pdf.Ln(2)
		w.field("Global Styles", strings.Join(plan.PositiveGlobalStyles, ", "))
		if plan.NegativeGlobalStyles != nil && len(*plan.NegativeGlobalStyles) > 0 {
			w.field("Avoid", strings.Join(*plan.NegativeGlobalStyles, ", "))
		}
	}
}

func (w *writer) sub(name, value, style string) {
	pdf := w.pdf
	w.color(ink)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, w.tr(name+":"), "", 1, "L", false, 0, "")
	w.color(muted)
	pdf.SetFont("Helvetica", style, 10)
	pdf.SetX(pageMargin + 3)
	pdf.MultiCell(bodyWidth-3, lineHeight, w.tr(value), "", "L", false)
}

var (
	breakTag = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
	anyTag   = regexp.MustCompile(`<[^>]+>`)
)

// stripTags drops the light inline markup the model sometimes emits.
func stripTags(s string) string {
	s = breakTag.ReplaceAllString(s, "\n")
	return strings.TrimSpace(anyTag.ReplaceAllString(s, ""))
}

func paragraphs(s string) []string {
	var out []string
	for _, p := range strings.Split(stripTags(s), "\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{emptyValue}
	}
	return out
}

func orEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return emptyValue
	}
	return s
}
