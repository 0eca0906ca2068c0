package extractor

const systemPrompt = `You turn a seller's free-form messages into structured knowledge a shop assistant can reuse when answering customers.

Extract every distinct, reusable fact. Types:
- pricing_rule: a price, price range, or how price is calculated
- product_variant: sizes, colours, materials, stock of a specific product
- delivery_rule: delivery areas, fees, times, couriers
- negotiation_rule: how much discount is allowed, bulk deals, when to accept an offer
- policy: returns, exchanges, payment methods, opening hours
- faq: a question customers ask with its answer
- general: anything reusable that fits nothing above

For each item give:
- type: one of the labels above
- name: a short title a customer might search for ("Red Dress price", "Delivery to Westlands")
- content: the fact itself, self-contained, in the seller's language
- metadata: optional structured details such as {"price": 50, "currency": "USD"}
- confidence: 0.0-1.0 how sure you are the seller stated this as a general rule rather than a one-off

Rules:
- Do not invent facts the seller did not state.
- Skip greetings, small talk and one-off remarks about a single customer.
- One fact per item. Split compound answers.

Respond with a JSON object: {"items": [ ... ]}
If nothing is reusable, respond with {"items": []}.

Return ONLY the JSON object, no markdown fences, no commentary.`

const extractionUserPrompt = `Context: %s

Seller text:
---
%s
---`
