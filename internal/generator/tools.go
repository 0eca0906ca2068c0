package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/schema"
)

type ToolName string

const (
	ToolAddToCart        ToolName = "add_to_cart"
	ToolCheckout         ToolName = "checkout"
	ToolShowCarousel     ToolName = "show_carousel"
	ToolRequestDiscount  ToolName = "request_discount"
	ToolCheckOrderStatus ToolName = "check_order_status"
)

type AddToCartArgs struct {
	ProductName string `json:"product_name" jsonschema:"required,minLength=1,description=Product name exactly as it appears in the knowledge list"`
	Quantity    int    `json:"quantity" jsonschema:"required,minimum=1"`
	Variant     string `json:"variant,omitempty" jsonschema:"description=Size or colour if the customer gave one"`
}

type CheckoutArgs struct {
	Note string `json:"note,omitempty"`
}

type ShowCarouselArgs struct {
	Query    string `json:"query" jsonschema:"required,minLength=1,description=What the customer wants to browse"`
	Category string `json:"category,omitempty"`
}

type RequestDiscountArgs struct {
	ProductName      string  `json:"product_name" jsonschema:"required,minLength=1"`
	RequestedPercent float64 `json:"requested_percent,omitempty" jsonschema:"minimum=0,maximum=100"`
	OfferedPrice     float64 `json:"offered_price,omitempty" jsonschema:"minimum=0"`
}

type CheckOrderStatusArgs struct {
	OrderReference string `json:"order_reference" jsonschema:"required,minLength=1"`
}

// Call is a validated tool call. Exactly one argument pointer is set, the
// one matching Name.
type Call struct {
	ID   string
	Name ToolName

	AddToCart        *AddToCartArgs
	Checkout         *CheckoutArgs
	ShowCarousel     *ShowCarouselArgs
	RequestDiscount  *RequestDiscountArgs
	CheckOrderStatus *CheckOrderStatusArgs
}

// Args returns the populated argument struct.
func (c Call) Args() any {
	switch c.Name {
	case ToolAddToCart:
		return c.AddToCart
	case ToolCheckout:
		return c.Checkout
	case ToolShowCarousel:
		return c.ShowCarousel
	case ToolRequestDiscount:
		return c.RequestDiscount
	case ToolCheckOrderStatus:
		return c.CheckOrderStatus
	}
	return nil
}

type wireCall struct {
	ID        string          `json:"id,omitempty"`
	Name      ToolName        `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (c Call) MarshalJSON() ([]byte, error) {
	args, err := json.Marshal(c.Args())
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireCall{ID: c.ID, Name: c.Name, Arguments: args})
}

func (c *Call) UnmarshalJSON(b []byte) error {
	var w wireCall
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	parsed, err := ParseToolCall(llm.ToolCall{ID: w.ID, Name: string(w.Name), Arguments: string(w.Arguments)})
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type toolSpec struct {
	description string
	validator   *schema.Validator
	decode      func(raw []byte) (Call, error)
}

func register[T any](name ToolName, description string, set func(*Call, *T)) toolSpec {
	v := schema.MustNew[T]()
	return toolSpec{
		description: description,
		validator:   v,
		decode: func(raw []byte) (Call, error) {
			args, err := schema.Decode[T](v, raw)
			if err != nil {
				return Call{}, err
			}
			c := Call{Name: name}
			set(&c, &args)
			return c, nil
		},
	}
}

var toolOrder = []ToolName{ToolAddToCart, ToolCheckout, ToolShowCarousel, ToolRequestDiscount, ToolCheckOrderStatus}

var tools = map[ToolName]toolSpec{
	ToolAddToCart: register(ToolAddToCart,
		"Add a product the customer clearly wants to their cart.",
		func(c *Call, a *AddToCartArgs) { c.AddToCart = a }),
	ToolCheckout: register(ToolCheckout,
		"Start checkout when the customer says they are ready to pay.",
		func(c *Call, a *CheckoutArgs) { c.Checkout = a }),
	ToolShowCarousel: register(ToolShowCarousel,
		"Show a carousel of matching products when the customer wants to browse.",
		func(c *Call, a *ShowCarouselArgs) { c.ShowCarousel = a }),
	ToolRequestDiscount: register(ToolRequestDiscount,
		"Pass a discount or counter-offer request to the seller.",
		func(c *Call, a *RequestDiscountArgs) { c.RequestDiscount = a }),
	ToolCheckOrderStatus: register(ToolCheckOrderStatus,
		"Look up the status of an existing order.",
		func(c *Call, a *CheckOrderStatusArgs) { c.CheckOrderStatus = a }),
}

// ToolDefinitions returns the tools offered to the chat backend.
func ToolDefinitions() []llm.Tool {
	out := make([]llm.Tool, 0, len(toolOrder))
	for _, name := range toolOrder {
		spec := tools[name]
		out = append(out, llm.Tool{
			Name:        string(name),
			Description: spec.description,
			Parameters:  spec.validator.Map(),
		})
	}
	return out
}

// ParseToolCall validates a backend tool call against the declared
// parameter schema of the named tool.
func ParseToolCall(tc llm.ToolCall) (Call, error) {
	spec, ok := tools[ToolName(tc.Name)]
	if !ok {
		return Call{}, fmt.Errorf("unknown tool %q", tc.Name)
	}
	raw := strings.TrimSpace(tc.Arguments)
	if raw == "" || raw == "null" {
		raw = "{}"
	}
	c, err := spec.decode([]byte(raw))
	if err != nil {
		return Call{}, fmt.Errorf("tool %s: %w", tc.Name, err)
	}
	c.ID = tc.ID
	return c, nil
}

// actionFor maps a tool to the suggested action that mirrors it.
func actionFor(name ToolName) SuggestedAction {
	return SuggestedAction(name)
}
