package bluesky

import (
	"encoding/json"
	"fmt"

	"github.com/blackmichael/bluesky-timeline/internal/domain"
)

func toTimelinePage(resp timelineResponse) (*domain.TimelinePage, error) {
	page := &domain.TimelinePage{
		Feed:   make([]domain.FeedEntry, 0, len(resp.Feed)),
		Cursor: resp.Cursor,
	}
	for _, item := range resp.Feed {
		post, err := toPost(item.Post)
		if err != nil {
			return nil, fmt.Errorf("post %s: %w", item.Post.URI, err)
		}
		reason, err := toReason(item.Reason)
		if err != nil {
			return nil, fmt.Errorf("reason for %s: %w", item.Post.URI, err)
		}
		page.Feed = append(page.Feed, domain.FeedEntry{Post: post, Reason: reason})
	}
	return page, nil
}

func toPost(pv postView) (*domain.Post, error) {
	embed, err := toEmbed(pv.Embed)
	if err != nil {
		return nil, err
	}
	return &domain.Post{
		URI:       pv.URI,
		CID:       pv.CID,
		Author:    toAuthor(pv.Author),
		IndexedAt: pv.IndexedAt,
		Record:    toRecord(pv.Record),
		Embed:     embed,
	}, nil
}

func toAuthor(p profileViewBasic) domain.Author {
	return domain.NewAuthor(p.DID, p.Handle, p.DisplayName)
}

func toRecord(r postRecord) domain.Record {
	rec := domain.Record{Text: r.Text}
	if r.Reply != nil {
		rec.Reply = &domain.ReplyRef{
			Parent: domain.PostRef{URI: r.Reply.Parent.URI, CID: r.Reply.Parent.CID},
			Root:   domain.PostRef{URI: r.Reply.Root.URI, CID: r.Reply.Root.CID},
		}
	}
	for _, f := range r.Facets {
		var df domain.Facet
		for _, feat := range f.Features {
			df.Features = append(df.Features, toFeature(feat))
		}
		rec.Facets = append(rec.Facets, df)
	}
	return rec
}

func toFeature(f facetFeature) domain.FacetFeature {
	switch f.Type {
	case typeLinkFacet:
		return domain.FacetFeature{Kind: domain.FeatureLink, URI: f.URI}
	case typeMentionFacet:
		return domain.FacetFeature{Kind: domain.FeatureMention, DID: f.DID}
	case typeTagFacet:
		return domain.FacetFeature{Kind: domain.FeatureTag, Tag: f.Tag}
	default:
		return domain.FacetFeature{Kind: domain.FeatureUnknown}
	}
}

// toReason maps a feed reason to a Repost. Pins and unknown reasons yield nil.
func toReason(raw json.RawMessage) (*domain.Repost, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var r reasonRepost
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal reason: %w", err)
	}
	if r.Type != typeReasonRepost {
		return nil, nil
	}
	return &domain.Repost{By: toAuthor(r.By), IndexedAt: r.IndexedAt}, nil
}

// toEmbed dispatches on the embed view's $type. Unsupported kinds, including
// recordWithMedia, yield a nil Embed.
func toEmbed(raw json.RawMessage) (domain.Embed, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var t typed
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("unmarshal embed: %w", err)
	}

	switch t.Type {
	case typeImagesView:
		var v imagesView
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("unmarshal images embed: %w", err)
		}
		images := make([]domain.Image, 0, len(v.Images))
		for _, img := range v.Images {
			images = append(images, domain.Image{Alt: img.Alt, Fullsize: img.Fullsize, Thumb: img.Thumb})
		}
		return &domain.Images{Images: images}, nil

	case typeRecordView:
		var v recordView
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("unmarshal record embed: %w", err)
		}
		return toQuotedPost(v.Record)

	case typeVideoView:
		var v videoView
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("unmarshal video embed: %w", err)
		}
		return &domain.Video{CID: v.CID, Alt: v.Alt}, nil

	case typeExternalView:
		var v externalView
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("unmarshal external embed: %w", err)
		}
		return &domain.External{
			URI:         v.External.URI,
			Title:       v.External.Title,
			Description: v.External.Description,
		}, nil

	default:
		return nil, nil
	}
}

// toQuotedPost decodes the record of an embed.record#view. Records that are
// not available inline or are not posts keep only their URI.
func toQuotedPost(raw json.RawMessage) (domain.Embed, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var t typed
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("unmarshal quoted record: %w", err)
	}

	var v viewRecord
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal quoted record: %w", err)
	}

	q := &domain.QuotedPost{URI: v.URI, CID: v.CID}
	if t.Type != typeViewRecord || v.Value.Type != typePost {
		return q, nil
	}

	q.Author = toAuthor(v.Author)
	record := toRecord(v.Value)
	q.Record = &record
	if len(v.Embeds) > 0 {
		nested, err := toEmbed(v.Embeds[0])
		if err != nil {
			return nil, err
		}
		q.Embed = nested
	}
	return q, nil
}
