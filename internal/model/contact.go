package model

import (
	"strings"
	"time"
)

// Contact is one entry of a user's contact directory.
type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// PageMessage is one message row scraped from a mail-like page.
type PageMessage struct {
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Snippet string `json:"snippet"`
	Thread  string `json:"gmailThread,omitempty"`
}

// PageContent is what the scrape capability hands to the parsing service.
// It is serialized to JSON and sent as the request text.
type PageContent struct {
	URL       string        `json:"url,omitempty"`
	Title     string        `json:"title,omitempty"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
	Messages  []PageMessage `json:"emails,omitempty"`
}

// Empty reports whether there is nothing to extract events from.
func (p PageContent) Empty() bool {
	return len(p.Messages) == 0 && strings.TrimSpace(p.Text) == ""
}
