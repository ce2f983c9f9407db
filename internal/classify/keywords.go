package classify

import (
	"strings"

	"github.com/mondzorg/inbox/internal/model"
)

type keywordRule struct {
	category model.Category
	keywords []string
}

// keywordTable is scanned in order; the first keyword contained in the
// text decides the category.
var keywordTable = []keywordRule{
	{model.CategoryAppointment, []string{"afspraak", "appointment", "consultatie", "consultation", "bezoek", "visit"}},
	{model.CategoryTreatment, []string{"behandeling", "treatment", "procedure", "implant", "invisalign", "bleaching", "kroon", "brug"}},
	{model.CategoryEmergency, []string{"spoed", "urgent", "pijn", "pain", "noodgeval", "emergency", "acuut"}},
	{model.CategoryPricing, []string{"prijs", "price", "tarief", "kosten", "cost"}},
	{model.CategoryInsurance, []string{"verzekering", "insurance", "dekking", "coverage", "claim"}},
	{model.CategoryComplaint, []string{"klacht", "complaint", "probleem", "problem", "ontevreden", "dissatisfied"}},
}

// emergencyKeywords raise the urgency of a keyword match to high.
var emergencyKeywords = map[string]bool{
	"spoed":  true,
	"urgent": true,
	"pijn":   true,
}

// ByKeywords classifies subject and body with the fixed keyword table.
// It is deterministic and never fails; no match yields the general
// category with medium urgency.
func ByKeywords(subject, body string) Result {
	text := strings.ToLower(subject + " " + body)

	for _, rule := range keywordTable {
		for _, kw := range rule.keywords {
			if !strings.Contains(text, kw) {
				continue
			}
			urgency := model.UrgencyMedium
			if emergencyKeywords[kw] {
				urgency = model.UrgencyHigh
			}
			return Result{
				Category: rule.category,
				Urgency:  urgency,
				Method:   MethodKeywords,
			}
		}
	}

	return Result{
		Category: model.CategoryGeneral,
		Urgency:  model.UrgencyMedium,
		Method:   MethodKeywords,
	}
}
