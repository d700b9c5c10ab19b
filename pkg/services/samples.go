package services

// sampleQuestions covers every intent and a follow-up.
var sampleQuestions = []string{
	"Hey, what can you help me with?",
	"Show me our top 5 performing multifamily assets by NOI in 2024",
	"What about by occupancy instead?",
	"Show all results",
	"Compare Fund II and Fund III IRR",
	"What is our total outstanding debt?",
	"Give me total equity for each fund",
	"How many assets do we have in Denver?",
	"NOI trend for Fund II over the last 3 years",
	"What is the NOI for Parkview last quarter?",
	"Top 3 lenders by outstanding debt",
}

// SampleQuestions returns questions that exercise each kind of answer.
func SampleQuestions() []string {
	return append([]string(nil), sampleQuestions...)
}
