package service

import (
	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/config"
)

// PriceTable holds list prices in whole currency units.
type PriceTable struct {
	FeeColonia       int64
	FeeCiclo         int64
	FeePackCompleto  int64
	CourseBasePrice  int64
	CycleMonthlyRate int64
}

// DefaultPriceTable returns the 2026 price list.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		FeeColonia:       25000,
		FeeCiclo:         50000,
		FeePackCompleto:  60000,
		CourseBasePrice:  55000,
		CycleMonthlyRate: 50000,
	}
}

// PriceTableFromConfig overlays configured prices on the defaults; zero or
// negative values keep the default.
func PriceTableFromConfig(cfg config.PricingConfig) PriceTable {
	table := DefaultPriceTable()
	pick := func(dst *int64, v int64) {
		if v > 0 {
			*dst = v
		}
	}
	pick(&table.FeeColonia, cfg.FeeColonia)
	pick(&table.FeeCiclo, cfg.FeeCiclo)
	pick(&table.FeePackCompleto, cfg.FeePackCompleto)
	pick(&table.CourseBasePrice, cfg.CourseBasePrice)
	pick(&table.CycleMonthlyRate, cfg.CycleMonthlyRate)
	return table
}

// EnrollmentTotal is the discounted recurring total of an enrollment.
type EnrollmentTotal struct {
	Total           int64
	DiscountPercent int
}

// PricingService computes discounts and totals. It holds no state besides the
// price table and is safe for concurrent use.
type PricingService struct {
	prices PriceTable
}

// NewPricingService constructs the pricing engine.
func NewPricingService(prices PriceTable) *PricingService {
	return &PricingService{prices: prices}
}

// Prices exposes the active price table.
func (s *PricingService) Prices() PriceTable {
	return s.prices
}

// DiscountForCombo returns 20 when there are several students and several
// courses, 12 when only one of the two holds, 0 otherwise.
func (s *PricingService) DiscountForCombo(studentCount, totalCourseCount int) int {
	manyStudents := studentCount >= 2
	manyCourses := totalCourseCount >= 2
	switch {
	case manyStudents && manyCourses:
		return 20
	case manyStudents || manyCourses:
		return 12
	default:
		return 0
	}
}

// DiscountForSiblings returns 0, 12 or 24 percent for 1, 2 or 3+ students.
func (s *PricingService) DiscountForSiblings(studentCount int) int {
	switch {
	case studentCount >= 3:
		return 24
	case studentCount == 2:
		return 12
	default:
		return 0
	}
}

// TotalForBundle prices course selections and applies discountPercent once to
// the whole subtotal.
func (s *PricingService) TotalForBundle(coursesPerStudent []int, discountPercent int) int64 {
	return s.ApplyDiscount(s.bundleSubtotal(coursesPerStudent), discountPercent)
}

// TotalForEnrollment computes the type dependent subtotal and applies the
// sibling discount exactly once.
func (s *PricingService) TotalForEnrollment(enrollmentType models.EnrollmentType, studentCount int, coursesPerStudent []int) EnrollmentTotal {
	var subtotal int64
	switch enrollmentType {
	case models.EnrollmentTypeColonia:
		subtotal = s.bundleSubtotal(coursesPerStudent)
	case models.EnrollmentTypeCiclo:
		subtotal = s.cycleSubtotal(studentCount)
	case models.EnrollmentTypePackCompleto:
		subtotal = s.bundleSubtotal(coursesPerStudent) + s.cycleSubtotal(studentCount)
	default:
		return EnrollmentTotal{}
	}

	discount := s.DiscountForSiblings(studentCount)
	return EnrollmentTotal{Total: s.ApplyDiscount(subtotal, discount), DiscountPercent: discount}
}

// FeeForType returns the one-time inscription fee, or 0 for unknown types.
func (s *PricingService) FeeForType(enrollmentType models.EnrollmentType) int64 {
	switch enrollmentType {
	case models.EnrollmentTypeColonia:
		return s.prices.FeeColonia
	case models.EnrollmentTypeCiclo:
		return s.prices.FeeCiclo
	case models.EnrollmentTypePackCompleto:
		return s.prices.FeePackCompleto
	default:
		return 0
	}
}

// ApplyDiscount returns base reduced by percent, rounded to the nearest whole
// unit with halves rounded away from zero. Integer arithmetic keeps the result
// exact for the amount comparison done at settlement.
func (s *PricingService) ApplyDiscount(base int64, percent int) int64 {
	scaled := base * int64(100-percent)
	if scaled >= 0 {
		return (scaled + 50) / 100
	}
	return (scaled - 50) / 100
}

// CoursePrice returns the list price of a single course under the combo
// promotion for the given enrollment shape.
func (s *PricingService) CoursePrice(studentCount, totalCourseCount int) int64 {
	return s.ApplyDiscount(s.prices.CourseBasePrice, s.DiscountForCombo(studentCount, totalCourseCount))
}

func (s *PricingService) bundleSubtotal(coursesPerStudent []int) int64 {
	var courses int64
	for _, n := range coursesPerStudent {
		if n > 0 {
			courses += int64(n)
		}
	}
	return courses * s.prices.CourseBasePrice
}

func (s *PricingService) cycleSubtotal(studentCount int) int64 {
	if studentCount <= 0 {
		return 0
	}
	return int64(studentCount) * s.prices.CycleMonthlyRate
}
