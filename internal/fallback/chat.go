package fallback

import "strings"

// ChatReply is a canned chat answer.
type ChatReply struct {
	Response    string   `json:"response"`
	Suggestions []string `json:"suggestions"`
	Fallback    bool     `json:"fallback"`
	Matched     string   `json:"matched,omitempty"`
}

type cannedReply struct {
	keyword     string
	response    string
	suggestions []string
}

// cannedReplies is scanned in order; the first keyword found wins.
var cannedReplies = []cannedReply{
	{
		keyword:     "help",
		response:    "I'm here to help you stay safe online. You can ask me to check a link, report a scam, or share safety tips.",
		suggestions: []string{"Check a URL", "Report a scam", "Get safety tips"},
	},
	{
		keyword:     "phishing",
		response:    "Phishing messages try to trick you into giving away passwords or money. Never click links from unknown senders and check the address carefully before logging in.",
		suggestions: []string{"Check a URL", "Get safety tips"},
	},
	{
		keyword:     "scam",
		response:    "If you think you found a scam, don't share any personal information. You can report the URL so others are warned too.",
		suggestions: []string{"Report a scam", "Check a URL"},
	},
	{
		keyword:     "password",
		response:    "Use a unique password for every account and enable two-factor authentication. If you entered your password on a suspicious site, change it right away.",
		suggestions: []string{"Get recovery steps", "Get safety tips"},
	},
}

const unavailableReply = "I'm having technical difficulties right now. Please try again in a few minutes. Meanwhile, never share passwords or OTP codes with anyone."

// Chat returns the canned reply for message.
func Chat(message string) ChatReply {
	msg := strings.TrimSpace(message)
	for _, r := range cannedReplies {
		if matchFold(msg, r.keyword) {
			return ChatReply{
				Response:    r.response,
				Suggestions: append([]string(nil), r.suggestions...),
				Fallback:    true,
				Matched:     r.keyword,
			}
		}
	}
	return ChatReply{
		Response:    unavailableReply,
		Suggestions: []string{"Try again later"},
		Fallback:    true,
	}
}
