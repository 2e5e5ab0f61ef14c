package rules

import (
	"math"

	"github.com/Dosada05/club-system/models"
)

// StudentFeeMultiplier is the student membership discount.
const StudentFeeMultiplier = 0.75

// FeeDue applies the membership-tier discount to a base event fee and rounds to
// currency precision.
func FeeDue(base float64, memberType models.MemberType) float64 {
	if base <= 0 {
		return 0
	}
	fee := base
	if memberType == models.MemberTypeStudent {
		fee = base * StudentFeeMultiplier
	}
	return math.Round(fee*100) / 100
}
