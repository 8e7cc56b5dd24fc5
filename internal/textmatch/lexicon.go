package textmatch

var stopwords = map[string]struct{}{}

// synonyms maps a term to the other members of its group.
var synonyms = map[string][]string{}

func init() {
	for _, w := range []string{
		"a", "about", "above", "after", "again", "all", "am", "an", "and", "any", "are", "as", "at",
		"be", "been", "before", "being", "between", "both", "but", "by",
		"can", "could", "did", "do", "does", "doing", "down", "during",
		"each", "few", "for", "from", "further",
		"had", "has", "have", "having", "he", "her", "here", "hers", "him", "his", "how",
		"i", "i'm", "if", "in", "into", "is", "it", "it's", "its", "just",
		"me", "more", "most", "my", "myself", "no", "nor", "not", "now",
		"of", "off", "on", "once", "only", "or", "other", "our", "ours", "out", "over", "own",
		"same", "she", "should", "so", "some", "such",
		"than", "that", "the", "their", "them", "then", "there", "these", "they", "this", "those",
		"through", "to", "too", "under", "until", "up", "very",
		"was", "we", "were", "what", "when", "where", "which", "while", "who", "whom", "why",
		"will", "with", "would", "you", "your", "yours",
		"tell", "show", "find", "note", "notes", "know", "write", "wrote", "written",
	} {
		stopwords[w] = struct{}{}
	}

	groups := [][]string{
		{"meeting", "call", "sync", "standup"},
		{"todo", "task", "action"},
		{"idea", "thought", "brainstorm"},
		{"bug", "issue", "defect", "problem"},
		{"plan", "roadmap", "strategy"},
		{"goal", "objective", "target"},
		{"summary", "overview", "recap"},
		{"decision", "choice", "resolution"},
		{"deadline", "due", "timeline"},
		{"recipe", "cooking"},
		{"journal", "diary", "log"},
		{"book", "reading"},
	}
	for _, g := range groups {
		for _, w := range g {
			for _, other := range g {
				if other != w {
					synonyms[w] = append(synonyms[w], other)
				}
			}
		}
	}
}

func isStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}
