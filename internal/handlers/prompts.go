package handlers

// Assistant request types and their token prices. Conversational advice is
// cheap, long-form generation costs more.
const (
	RequestTypeBusinessAdvisor     = "business_advisor"
	RequestTypeDocumentGeneration  = "document_generation"
	RequestTypeJobDescription      = "job_description"
	RequestTypeMarketingCampaign   = "marketing_campaign"
	RequestTypeComplianceChecklist = "compliance_checklist"
)

const (
	chatTokenCost       = 1
	generationTokenCost = 5
)

func tokenCostFor(requestType string) int64 {
	switch requestType {
	case RequestTypeDocumentGeneration, RequestTypeJobDescription,
		RequestTypeMarketingCampaign, RequestTypeComplianceChecklist:
		return generationTokenCost
	default:
		return chatTokenCost
	}
}

const advisorBasePrompt = `You are a business advisor for small and medium businesses in Nigeria.
You understand the Nigerian market: naira pricing, CAC registration, FIRS tax obligations,
state levies, POS and bank transfer payments, and the realities of running a business with
unreliable power and internet. Give practical, specific advice. Keep answers concise and
actionable. When regulations are involved, name the agency responsible.`

func systemPromptFor(requestType string) string {
	switch requestType {
	case RequestTypeDocumentGeneration:
		return advisorBasePrompt + `

The user needs a business document (invoice, proposal, contract, letter or similar).
Produce a complete, professional document they can use directly. Use naira for all
amounts and leave clearly marked placeholders for details you don't have.`
	case RequestTypeJobDescription:
		return advisorBasePrompt + `

The user needs a job description. Produce a complete posting: title, summary,
responsibilities, requirements, and salary guidance in naira appropriate for the
Nigerian job market. Ask for nothing, fill gaps with sensible placeholders.`
	case RequestTypeMarketingCampaign:
		return advisorBasePrompt + `

The user needs a marketing campaign. Produce a concrete plan with channel choices
that work in Nigeria (WhatsApp, Instagram, radio, flyers, market activations),
sample copy, and a budget breakdown in naira.`
	case RequestTypeComplianceChecklist:
		return advisorBasePrompt + `

The user needs a compliance checklist. Produce a numbered checklist of registrations,
filings and renewals for their business type, naming the responsible agency (CAC,
FIRS, NAFDAC, SON, state IRS) and typical timelines for each item.`
	default:
		return advisorBasePrompt
	}
}

// fallbackResponseFor returns the canned reply used when the AI provider is
// unavailable. The user's tokens have already been refunded by then.
func fallbackResponseFor(requestType string) string {
	switch requestType {
	case RequestTypeDocumentGeneration:
		return "Our document generator is temporarily unavailable. Your tokens have not been charged. " +
			"Please try again in a few minutes, or start from one of the templates in your dashboard."
	case RequestTypeJobDescription:
		return "Our AI writer is temporarily unavailable. Your tokens have not been charged. " +
			"Please try again shortly. In the meantime, a strong job post covers the role summary, " +
			"key responsibilities, must-have skills, and a salary range in naira."
	case RequestTypeMarketingCampaign:
		return "Our AI assistant is temporarily unavailable. Your tokens have not been charged. " +
			"Please try again shortly. Quick tip: WhatsApp status updates and customer broadcast " +
			"lists are the cheapest channels that consistently work for Nigerian SMBs."
	case RequestTypeComplianceChecklist:
		return "Our AI assistant is temporarily unavailable. Your tokens have not been charged. " +
			"Please try again shortly. At minimum, most Nigerian businesses need CAC registration, " +
			"a TIN from FIRS, and annual returns filed with both."
	default:
		return "Our AI assistant is temporarily unavailable. Your tokens have not been charged. " +
			"Please try again in a few minutes."
	}
}
