package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"taximeter/internal/domain"
)

// ReceiptService handles receipt generation.
type ReceiptService struct {
	notificationService *NotificationService
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(notificationService *NotificationService) *ReceiptService {
	return &ReceiptService{
		notificationService: notificationService,
	}
}

// GenerateReceipt builds the receipt of a completed trip and announces it.
func (s *ReceiptService) GenerateReceipt(ctx context.Context, trip *domain.Trip) (*domain.Receipt, error) {
	receipt, err := s.BuildReceipt(trip)
	if err != nil {
		return nil, err
	}

	if s.notificationService != nil {
		_ = s.notificationService.NotifyReceiptReady(ctx, receipt)
	}

	return receipt, nil
}

// BuildReceipt computes the receipt lines of a completed trip. The lines add
// up to the metered total: subtotal, minimum fare adjustment, surge and any
// rounding difference.
func (s *ReceiptService) BuildReceipt(trip *domain.Trip) (*domain.Receipt, error) {
	if trip == nil {
		return nil, ErrInvalidTripID
	}
	if trip.Status != domain.TripStatusEnded {
		return nil, ErrTripNotEnded
	}

	category := trip.Category
	digits := category.DecimalDigits

	multiplier := trip.Multiplier
	if multiplier.LessThan(decimal.NewFromInt(1)) {
		multiplier = decimal.NewFromInt(1)
	}

	subtotal := trip.BasicFare.Add(trip.DistanceCost).Add(trip.TimeCost)
	minimumAdjustment := decimal.Zero
	if subtotal.LessThan(category.MinimumFare) {
		minimumAdjustment = category.MinimumFare.Sub(subtotal).Round(digits)
	}
	floored := subtotal.Add(minimumAdjustment)
	surgeAmount := floored.Mul(multiplier.Sub(decimal.NewFromInt(1))).Round(digits)
	rounding := trip.TotalFare.Sub(floored).Sub(surgeAmount)

	receipt := &domain.Receipt{
		ID:                    uuid.New().String(),
		TripID:                trip.ID,
		DriverID:              trip.DriverID,
		FareCategory:          category.Name,
		CurrencySymbol:        category.CurrencySymbol,
		DecimalDigits:         digits,
		DistanceUnit:          string(category.DistanceUnit),
		BasicFare:             trip.BasicFare,
		DistanceCost:          trip.DistanceCost,
		TimeCost:              trip.TimeCost,
		Subtotal:              subtotal,
		MinimumFareAdjustment: minimumAdjustment,
		SurgeMultiplier:       multiplier,
		SurgeAmount:           surgeAmount,
		Rounding:              rounding,
		TotalFare:             trip.TotalFare,
		Distance:              category.DistanceUnit.FromKm(trip.DistanceKm),
		Duration:              time.Duration(trip.ElapsedSeconds) * time.Second,
		PausedDuration:        trip.TotalPaused,
		StartedAt:             trip.StartedAt,
		EndedAt:               trip.EndedAt,
		CreatedAt:             time.Now().UTC(),
	}

	return receipt, nil
}

// FormatReceipt formats the receipt as plain text (for email/print).
func (s *ReceiptService) FormatReceipt(receipt *domain.Receipt) string {
	money := func(d decimal.Decimal) string {
		return formatMoney(receipt.CurrencySymbol, d, receipt.DecimalDigits)
	}

	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%-22s%14s\n", label, value)
	}
	rule := strings.Repeat("-", 36) + "\n"

	b.WriteString(strings.Repeat("=", 36) + "\n")
	b.WriteString("            TAXI RECEIPT\n")
	b.WriteString(strings.Repeat("=", 36) + "\n")
	fmt.Fprintf(&b, "Receipt ID: %s\n", receipt.ID)
	fmt.Fprintf(&b, "Trip ID:    %s\n", receipt.TripID)
	fmt.Fprintf(&b, "Date:       %s\n", receipt.EndedAt.Format("Jan 02, 2006 3:04 PM"))
	fmt.Fprintf(&b, "Category:   %s\n\n", receipt.FareCategory)

	b.WriteString("TRIP DETAILS\n" + rule)
	line("Duration:", formatDuration(receipt.Duration))
	if receipt.PausedDuration > 0 {
		line("Paused:", formatDuration(receipt.PausedDuration))
	}
	line("Distance:", fmt.Sprintf("%.2f %s", receipt.Distance, receipt.DistanceUnit))

	b.WriteString("\nFARE BREAKDOWN\n" + rule)
	line("Basic fare:", money(receipt.BasicFare))
	line("Distance:", money(receipt.DistanceCost))
	line("Time:", money(receipt.TimeCost))
	if receipt.MinimumFareAdjustment.IsPositive() {
		line("Minimum fare:", money(receipt.MinimumFareAdjustment))
	}
	if receipt.SurgeAmount.IsPositive() {
		line(fmt.Sprintf("Surge (%sx):", receipt.SurgeMultiplier.StringFixed(2)), money(receipt.SurgeAmount))
	}
	if !receipt.Rounding.IsZero() {
		line("Rounding:", money(receipt.Rounding))
	}
	b.WriteString(rule)
	line("TOTAL:", money(receipt.TotalFare))
	b.WriteString(strings.Repeat("=", 36) + "\n")

	return b.String()
}

func formatMoney(symbol string, amount decimal.Decimal, digits int32) string {
	if symbol == "" {
		return amount.StringFixed(digits)
	}
	return symbol + " " + amount.StringFixed(digits)
}

func formatDuration(d time.Duration) string {
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%d min %02d s", minutes, seconds)
}
