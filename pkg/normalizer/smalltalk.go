package normalizer

const defaultGreeting = "Hello! I can answer questions about the portfolio's assets, funds and lenders: " +
	"rankings, trends, comparisons and totals. What would you like to know?"

const maxSmallTalkWords = 8

// Small talk replies keyed by the phrase that triggers them, checked in order.
var smallTalkReplies = []struct {
	phrase []string
	reply  string
}{
	{[]string{"thank", "you"}, "You're welcome. Ask me anything else about the portfolio."},
	{[]string{"thanks"}, "You're welcome. Ask me anything else about the portfolio."},
	{[]string{"goodbye"}, "Goodbye! Your conversation context is kept until the session expires."},
	{[]string{"bye"}, "Goodbye! Your conversation context is kept until the session expires."},
	{[]string{"good", "morning"}, "Good morning! " + defaultGreeting},
	{[]string{"good", "afternoon"}, "Good afternoon! " + defaultGreeting},
	{[]string{"help"}, defaultGreeting},
	{[]string{"what", "can", "you", "do"}, defaultGreeting},
	{[]string{"hello"}, defaultGreeting},
	{[]string{"hey"}, defaultGreeting},
	{[]string{"hi"}, defaultGreeting},
}

// Words that turn a greeting into a data request ("hi, list the assets").
var dataWords = map[string]bool{
	"show": true, "list": true, "get": true, "find": true, "properties": true,
	"noi": true, "data": true, "assets": true,
}

// SmallTalk returns a canned reply when the question is a short greeting or
// courtesy with no data request in it.
func SmallTalk(n *Normalized) (string, bool) {
	words := n.Words()
	if len(words) == 0 || len(words) > maxSmallTalkWords {
		return "", false
	}
	for _, w := range words {
		if dataWords[w] {
			return "", false
		}
	}
	for _, st := range smallTalkReplies {
		if indexPhrase(words, func(int) bool { return true }, st.phrase) >= 0 {
			return st.reply, true
		}
	}
	return "", false
}

var showAllPhrases = [][]string{
	{"show", "all"}, {"all", "results"}, {"show", "everything"}, {"full", "table"},
	{"complete", "list"}, {"expand"}, {"show", "more"}, {"show", "rest"}, {"all", "rows"},
	{"entire", "list"}, {"full", "results"}, {"without", "limit"}, {"show", "complete"},
	{"full", "list"}, {"see", "all"},
}

// IsShowAll reports whether the question asks to expand the previous result
// rather than asking something new. A question that also names anything the
// catalog knows ("show all assets in Denver") is a new question; callers pass
// named=true in that case.
func IsShowAll(n *Normalized, named bool) bool {
	if named {
		return false
	}
	words := n.Words()
	for _, p := range showAllPhrases {
		if indexPhrase(words, func(int) bool { return true }, p) >= 0 {
			return true
		}
	}
	return false
}
