package wiki

import (
	"time"
)

// Page is the typed ingestion boundary for the wiki source. Anything the
// source sends beyond these fields is dropped here; missing fields are
// defaulted rather than propagated as untyped maps.
type Page struct {
	ID             string
	Title          string
	RawBody        string
	Version        int
	LastModifiedAt time.Time
	Labels         []string
}

type pagePayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		Number int    `json:"number"`
		When   string `json:"when"`
	} `json:"version"`
	Metadata struct {
		Labels struct {
			Results []struct {
				Name string `json:"name"`
			} `json:"results"`
		} `json:"labels"`
	} `json:"metadata"`
}

type listPayload struct {
	Results []pagePayload `json:"results"`
	Size    int           `json:"size"`
}

func (p pagePayload) toPage() Page {
	page := Page{
		ID:      p.ID,
		Title:   p.Title,
		RawBody: p.Body.Storage.Value,
		Version: p.Version.Number,
	}

	if page.Title == "" {
		page.Title = "Untitled"
	}
	if page.Version < 1 {
		page.Version = 1
	}

	if p.Version.When != "" {
		if ts, err := time.Parse(time.RFC3339, p.Version.When); err == nil {
			page.LastModifiedAt = ts
		}
	}

	for _, label := range p.Metadata.Labels.Results {
		if label.Name != "" {
			page.Labels = append(page.Labels, label.Name)
		}
	}

	return page
}
