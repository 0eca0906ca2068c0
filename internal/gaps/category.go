package gaps

import (
	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
)

// Mapper suggests which knowledge categories would close a gap, based on
// the intent customers had when they asked.
type Mapper struct {
	mapping map[intent.Intent][]knowledge.Category
}

func NewMapper() *Mapper {
	return &Mapper{
		mapping: map[intent.Intent][]knowledge.Category{
			intent.ProductInquiry:     {knowledge.CategoryProduct},
			intent.PriceCheck:         {knowledge.CategoryProduct},
			intent.OrderIntent:        {knowledge.CategoryProduct, knowledge.CategoryPolicy},
			intent.DeliveryQuestion:   {knowledge.CategoryPolicy},
			intent.Negotiation:        {knowledge.CategoryPolicy},
			intent.Complaint:          {knowledge.CategoryPolicy, knowledge.CategoryFAQ},
			intent.AppointmentRequest: {knowledge.CategoryFAQ},
			intent.CallRequest:        {knowledge.CategoryFAQ},
		},
	}
}

// Categories returns a copy of the categories for in. Intents with no
// mapping get general.
func (m *Mapper) Categories(in intent.Intent) []knowledge.Category {
	cats, ok := m.mapping[in]
	if !ok {
		return []knowledge.Category{knowledge.CategoryGeneral}
	}
	out := make([]knowledge.Category, len(cats))
	copy(out, cats)
	return out
}

// Suggest picks the primary category for the most common intent in a
// cluster. Ties go to the intent seen first.
func (m *Mapper) Suggest(intents []intent.Intent) knowledge.Category {
	counts := map[intent.Intent]int{}
	var best intent.Intent
	for _, in := range intents {
		counts[in]++
		if best == "" || counts[in] > counts[best] {
			best = in
		}
	}
	return m.Categories(best)[0]
}
