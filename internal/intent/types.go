package intent

// Intent is the closed set of labels a customer message can carry.
type Intent string

const (
	ProductInquiry     Intent = "product_inquiry"
	PriceCheck         Intent = "price_check"
	DeliveryQuestion   Intent = "delivery_question"
	Negotiation        Intent = "negotiation"
	OrderIntent        Intent = "order_intent"
	AppointmentRequest Intent = "appointment_request"
	CallRequest        Intent = "call_request"
	Complaint          Intent = "complaint"
	Greeting           Intent = "greeting"
	Gratitude          Intent = "gratitude"
	Unknown            Intent = "unknown"
)

var All = []Intent{
	ProductInquiry, PriceCheck, DeliveryQuestion, Negotiation, OrderIntent,
	AppointmentRequest, CallRequest, Complaint, Greeting, Gratitude, Unknown,
}

func (i Intent) Valid() bool {
	for _, v := range All {
		if i == v {
			return true
		}
	}
	return false
}

// Result is the classifier output for one message.
type Result struct {
	Intent     Intent  `json:"intent" jsonschema:"required,enum=product_inquiry,enum=price_check,enum=delivery_question,enum=negotiation,enum=order_intent,enum=appointment_request,enum=call_request,enum=complaint,enum=greeting,enum=gratitude,enum=unknown"`
	Confidence float64 `json:"confidence" jsonschema:"required,minimum=0,maximum=1"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Fallback is returned whenever classification cannot produce a valid
// Result. Its low confidence pushes the evaluator toward escalation.
func Fallback() Result {
	return Result{Intent: Unknown, Confidence: 0.3, Reasoning: "classification failed"}
}

// Answer is the output of the binary confirmation classifier.
type Answer string

const (
	AnswerYes     Answer = "yes"
	AnswerNo      Answer = "no"
	AnswerUnknown Answer = "unknown"
)

type answerPayload struct {
	Answer Answer `json:"answer" jsonschema:"required,enum=yes,enum=no,enum=unknown"`
}
