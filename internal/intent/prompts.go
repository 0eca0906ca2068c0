package intent

const classifySystemPrompt = `You classify customer messages sent to a small online business.

Pick exactly one intent:
- product_inquiry: asks about a product, availability, size, colour, material
- price_check: asks how much something costs
- delivery_question: shipping, delivery time, delivery area, fees
- negotiation: asks for a discount or offers a lower price
- order_intent: wants to buy, reserve, or place an order
- appointment_request: wants to book a visit, fitting, or slot
- call_request: asks to be called or for a phone number
- complaint: unhappy with a product, order, or service
- greeting: hello with no other request
- gratitude: thanks with no other request
- unknown: none of the above or unclear

Use the recent conversation only to resolve references like "that one" or "how much?".

Respond with a JSON object:
{"intent": "<label>", "confidence": <0.0-1.0>, "reasoning": "<one short sentence>"}

Return ONLY the JSON object, no markdown fences, no commentary.`

const classifyUserPrompt = `Recent conversation:
%s

Message to classify:
%s`

const confirmationSystemPrompt = `You decide whether a message answers a yes/no question with yes or no.
The message may be in any language and may be informal ("yep", "sure", "nah", "oui", "ndiyo").
If the message does not clearly answer, use "unknown".

Respond with a JSON object: {"answer": "yes" | "no" | "unknown"}

Return ONLY the JSON object, no markdown fences, no commentary.`

const confirmationUserPrompt = `Question: %s

Message: %s`
