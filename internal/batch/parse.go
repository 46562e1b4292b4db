package batch

import (
	"context"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/extract"
	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/offline"
)

// ParseSweep extracts structured permit information from up to n unparsed
// snapshots. Failures are recorded on the snapshot; later sweeps retry
// them after snapshots that have not failed.
func (p *Pipeline) ParseSweep(ctx context.Context, n int) (*Summary, error) {
	snaps, err := p.deps.Store.ListUnparsedSnapshots(ctx, p.size(n))
	if err != nil {
		return nil, eris.Wrap(err, "batch: list unparsed snapshots")
	}
	return sweep(ctx, p, "parse", snaps, func(s model.PortalSnapshot) string { return s.ID }, p.parse)
}

func (p *Pipeline) parse(ctx context.Context, snap model.PortalSnapshot) error {
	items, err := p.extractSnapshot(ctx, snap)
	if err != nil {
		if ctx.Err() == nil {
			if serr := p.deps.Store.SetSnapshotParseError(ctx, snap.ID, err.Error()); serr != nil {
				return eris.Wrapf(serr, "batch: record parse error %s", snap.ID)
			}
		}
		return err
	}
	if err := p.deps.Store.MarkSnapshotParsed(ctx, snap.ID, items); err != nil {
		return eris.Wrapf(err, "batch: mark snapshot %s parsed", snap.ID)
	}
	zap.L().Debug("batch: parsed snapshot",
		zap.String("snapshot_id", snap.ID),
		zap.String("url", snap.URL),
		zap.Int("items", len(items)),
	)
	return nil
}

func (p *Pipeline) extractSnapshot(ctx context.Context, snap model.PortalSnapshot) ([]model.Extraction, error) {
	data, err := p.deps.Blobs.Get(ctx, snap.StorageRef)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: load snapshot %s", snap.ID)
	}

	var text string
	if snap.IsPDF() {
		text, err = p.deps.OCR.ExtractText(ctx, data)
		if err != nil {
			return nil, eris.Wrapf(err, "batch: pdf text %s", snap.URL)
		}
	} else {
		text, err = MainText(string(data), snap.URL)
		if err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, eris.Errorf("batch: no text in %s", snap.URL)
	}

	res, err := p.deps.Extractor.Extract(ctx, snap.URL, text)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: extract %s", snap.URL)
	}

	var items []model.Extraction
	for _, coll := range extract.CollectionNames {
		for _, it := range res[coll] {
			items = append(items, model.Extraction{SnapshotID: snap.ID, Collection: coll, Item: it})
		}
	}
	return items, nil
}

// MainText reduces an HTML page to the text of its main content. Pages
// readability cannot handle fall back to the whole document's text.
func MainText(html, pageURL string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", eris.Wrapf(err, "batch: parse page url %q", pageURL)
	}

	content := html
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(html), base)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		content = article.Content
	} else if err != nil {
		zap.L().Debug("batch: readability failed, using full page", zap.String("url", pageURL), zap.Error(err))
	}

	page, err := offline.ExtractPage(content, pageURL)
	if err != nil {
		return "", eris.Wrapf(err, "batch: page text %s", pageURL)
	}
	text := page.Text
	if title := strings.TrimSpace(article.Title); title != "" && !strings.HasPrefix(text, title) {
		text = title + "\n" + text
	}
	return text, nil
}
