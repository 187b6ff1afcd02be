package fulfillment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/kirinyoku/tixbook/internal/domain"
	qrcode "github.com/skip2/go-qrcode"
)

// Ticket is one unit of fulfillment work.
type Ticket struct {
	Booking domain.Booking
	Event   domain.Event
	Resend  bool
}

func (t Ticket) Filename() string {
	return "ticket-" + t.Booking.ID.String() + ".pdf"
}

type qrPayload struct {
	TicketID    string `json:"ticketId"`
	BookingID   string `json:"bookingId"`
	EventID     int64  `json:"eventId"`
	EventTitle  string `json:"eventTitle"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Amount      int64  `json:"amount"`
	TicketType  string `json:"ticketType"`
	Quantity    int    `json:"quantity"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Venue       string `json:"venue"`
	GeneratedAt string `json:"generatedAt"`
}

// QRPayload returns the JSON document encoded in the ticket's QR code.
func QRPayload(t Ticket, now time.Time) ([]byte, error) {
	b, e := t.Booking, t.Event

	p := qrPayload{
		TicketID:    b.TicketID(),
		BookingID:   b.ID.String(),
		EventID:     e.ID,
		EventTitle:  e.Title,
		Name:        b.Contact.Name,
		Email:       b.Contact.Email,
		PhoneNumber: b.Contact.PhoneNumber,
		Amount:      b.Amount,
		TicketType:  string(b.TicketClass),
		Quantity:    b.Quantity,
		Date:        dateLabel(e.StartsAt),
		Time:        timeLabel(e.StartsAt),
		Venue:       orDefault(e.Venue, "TBA"),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}

	return json.Marshal(p)
}

// Renderer draws the PDF ticket.
type Renderer struct {
	now func() time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{now: time.Now}
}

var (
	colorBrand    = [3]int{11, 114, 83}
	colorText     = [3]int{15, 23, 42}
	colorMuted    = [3]int{100, 116, 139}
	colorHairline = [3]int{226, 232, 240}
	colorPanel    = [3]int{248, 250, 252}
)

const (
	pageW   = 210.0
	margin  = 16.0
	leftW   = 104.0
	gutter  = 10.0
	qrSize  = 52.0
	headerH = 36.0
)

// RenderPDF renders the A4 ticket with its QR code.
func (r *Renderer) RenderPDF(t Ticket) ([]byte, error) {
	const op = "fulfillment.Renderer.RenderPDF"

	payload, err := QRPayload(t, r.now())
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	png, err := qrcode.Encode(string(payload), qrcode.High, 512)
	if err != nil {
		return nil, fmt.Errorf("%s: qr: %w", op, err)
	}

	b, e := t.Booking, t.Event

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Ticket "+b.TicketID(), false)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.AddPage()

	// Core fonts are cp1252; titles may carry anything.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	setFill(pdf, colorBrand)
	pdf.Rect(0, 0, pageW, headerH, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetXY(margin, 10)
	pdf.CellFormat(0, 10, "EVENT TICKET", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetX(margin)
	pdf.CellFormat(0, 6, "Please keep a digital copy as backup", "", 1, "L", false, 0, "")

	y := headerH + 10
	setText(pdf, colorText)
	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetXY(margin, y)
	pdf.CellFormat(pageW-2*margin, 10, tr(orDefault(e.Title, "Event")), "", 1, "C", false, 0, "")

	y = pdf.GetY() + 3
	setDraw(pdf, colorHairline)
	pdf.Line(margin, y, pageW-margin, y)
	y += 6

	top := y
	x := margin
	half := leftW/2 - 3

	y += labelValue(pdf, tr, "Date", dateLabel(e.StartsAt), x, y, half, false)
	labelValue(pdf, tr, "Time", timeLabel(e.StartsAt), x+leftW/2+3, y-rowH, half, false)
	y += labelValue(pdf, tr, "Venue", orDefault(e.Venue, "TBA"), x, y, leftW, false)
	y += labelValue(pdf, tr, "Attendee", orDefault(b.Contact.Name, "-"), x, y, half, false)
	labelValue(pdf, tr, "Phone", orDefault(b.Contact.PhoneNumber, "-"), x+leftW/2+3, y-rowH, half, false)
	y += labelValue(pdf, tr, "Email", orDefault(b.Contact.Email, "-"), x, y, leftW, false)

	third := leftW/3 - 3
	labelValue(pdf, tr, "Ticket Type", strings.ToUpper(string(b.TicketClass)), x, y, third, false)
	labelValue(pdf, tr, "Quantity", strconv.Itoa(b.Quantity), x+leftW/3, y, third, false)
	y += labelValue(pdf, tr, "Amount Paid", FormatAmount(b.Amount), x+2*leftW/3, y, third, false)

	y += labelValue(pdf, tr, "Booking ID", b.ID.String(), x, y, leftW, false)
	labelValue(pdf, tr, "Ticket ID", b.TicketID(), x, y, leftW, true)

	qrX := margin + leftW + gutter
	panelW := pageW - margin - qrX
	setFill(pdf, colorPanel)
	setDraw(pdf, colorHairline)
	pdf.Rect(qrX, top, panelW, qrSize+22, "FD")

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
	pdf.ImageOptions("qr", qrX+(panelW-qrSize)/2, top+6, qrSize, qrSize, false, opts, 0, "")

	setText(pdf, colorMuted)
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetXY(qrX, top+qrSize+9)
	pdf.CellFormat(panelW, 5, "Scan at the entrance", "", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return buf.Bytes(), nil
}

const rowH = 15.0

// labelValue draws a muted label above its value and returns the row height.
func labelValue(pdf *fpdf.Fpdf, tr func(string) string, label, value string, x, y, w float64, accent bool) float64 {
	setText(pdf, colorMuted)
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetXY(x, y)
	pdf.CellFormat(w, 4, strings.ToUpper(label), "", 0, "L", false, 0, "")

	if accent {
		setText(pdf, colorBrand)
	} else {
		setText(pdf, colorText)
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetXY(x, y+5)
	pdf.CellFormat(w, 6, tr(value), "", 0, "L", false, 0, "")

	return rowH
}

func setFill(pdf *fpdf.Fpdf, c [3]int) { pdf.SetFillColor(c[0], c[1], c[2]) }
func setDraw(pdf *fpdf.Fpdf, c [3]int) { pdf.SetDrawColor(c[0], c[1], c[2]) }
func setText(pdf *fpdf.Fpdf, c [3]int) { pdf.SetTextColor(c[0], c[1], c[2]) }

// FormatAmount renders whole currency units with thousands separators,
// e.g. "BDT 12,500".
func FormatAmount(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var sb strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}

	if neg {
		return "BDT -" + sb.String()
	}
	return "BDT " + sb.String()
}

func dateLabel(t time.Time) string {
	if t.IsZero() {
		return "TBA"
	}
	return t.Format("Monday, January 2, 2006")
}

func timeLabel(t time.Time) string {
	if t.IsZero() {
		return "TBA"
	}
	return t.Format("15:04")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
