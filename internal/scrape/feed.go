package scrape

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFeed is returned for XML that is neither RSS nor Atom.
var ErrUnknownFeed = errors.New("unknown feed format (expected <rss> or <feed>)")

type rssRoot struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	GUID        string       `xml:"guid"`
	Title       string       `xml:"title"`
	Link        string       `xml:"link"`
	Description string       `xml:"description"`
	Content     string       `xml:"encoded"`
	PubDate     string       `xml:"pubDate"`
	Date        string       `xml:"date"`
	Enclosure   rssEnclosure `xml:"enclosure"`
	Media       []mediaRef   `xml:"content"`
	Thumbnail   mediaRef     `xml:"thumbnail"`
}

type rssEnclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

type mediaRef struct {
	URL    string `xml:"url,attr"`
	Medium string `xml:"medium,attr"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type atomEntry struct {
	ID        string     `xml:"id"`
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

// ParseFeed parses RSS 2.0 or Atom 1.0, detected from the root element.
func ParseFeed(data []byte) ([]Item, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("parse feed: empty document")
	}
	switch detectFeedFormat(trimmed) {
	case "rss":
		return parseRSS(trimmed)
	case "atom":
		return parseAtom(trimmed)
	default:
		return nil, fmt.Errorf("parse feed: %w", ErrUnknownFeed)
	}
}

func detectFeedFormat(data []byte) string {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			switch strings.ToLower(se.Name.Local) {
			case "rss":
				return "rss"
			case "feed":
				return "atom"
			default:
				return ""
			}
		}
	}
}

func parseRSS(data []byte) ([]Item, error) {
	var root rssRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}
	items := make([]Item, 0, len(root.Channel.Items))
	for _, it := range root.Channel.Items {
		link := strings.TrimSpace(it.Link)
		if link == "" && strings.HasPrefix(strings.TrimSpace(it.GUID), "http") {
			link = strings.TrimSpace(it.GUID)
		}
		body := it.Content
		if strings.TrimSpace(body) == "" {
			body = it.Description
		}
		published := it.PubDate
		if published == "" {
			published = it.Date
		}
		items = append(items, Item{
			URL:         link,
			Title:       strings.TrimSpace(it.Title),
			BodyHTML:    strings.TrimSpace(body),
			ImageURL:    rssImage(it),
			PublishedAt: parseDate(published),
		})
	}
	return items, nil
}

func rssImage(it rssItem) string {
	if strings.HasPrefix(it.Enclosure.Type, "image/") && it.Enclosure.URL != "" {
		return it.Enclosure.URL
	}
	for _, m := range it.Media {
		if m.URL != "" && (m.Medium == "" || m.Medium == "image") {
			return m.URL
		}
	}
	return it.Thumbnail.URL
}

func parseAtom(data []byte) ([]Item, error) {
	var feed atomFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parse atom: %w", err)
	}
	items := make([]Item, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		body := e.Content
		if strings.TrimSpace(body) == "" {
			body = e.Summary
		}
		published := e.Published
		if published == "" {
			published = e.Updated
		}
		item := Item{
			URL:         atomHref(e.Links),
			Title:       strings.TrimSpace(e.Title),
			BodyHTML:    strings.TrimSpace(body),
			PublishedAt: parseDate(published),
		}
		for _, l := range e.Links {
			if l.Rel == "enclosure" && strings.HasPrefix(l.Type, "image/") {
				item.ImageURL = l.Href
				break
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func atomHref(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}
