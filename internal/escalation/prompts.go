package escalation

const questionSystemPrompt = `You help a shop assistant ask the seller a question when it could not answer a customer.

Write ONE short, specific question for the seller. The seller's answer must give the assistant exactly the fact it is missing, so it can answer this customer and future customers asking the same thing.
- Name the product, service or topic explicitly.
- Ask for the general rule when possible ("What is the delivery fee to Westlands?" rather than "What should I tell this customer?").
- Do not greet. Do not explain.

Respond with a JSON object: {"question": "<question>"}

Return ONLY the JSON object, no markdown fences, no commentary.`

const questionUserPrompt = `Business: %s
Customer message: %s
Detected intent: %s
What the assistant already knows:
%s`

const fallbackQuestion = "A customer asked: %q. How should we answer?"

// HoldingMessage is what the customer is told while the seller is asked.
const HoldingMessage = "Thanks for your patience! I'm checking with our team and will get back to you shortly."
