package laarhttp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"guiatrack/internal/integrations/laar"
	"guiatrack/internal/status"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

const (
	defaultBaseURL = "https://fenixoper.laarcourier.com"
	trackingPath   = "/Tracking/Guiacompleta.aspx"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) TrackingURL(parcelID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = trackingPath
	q := u.Query()
	q.Set("Guia", parcelID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Extraction cascade per field, in priority order:
//  1. element whose class/id contains a hint word,
//  2. label-keyed table lookup (row text contains the label, last cell wins),
//  3. regex over the page's full text.
//
// The upstream page is an old ASP.NET form whose markup shifts between
// deployments, hence the redundancy.
type fieldSpec struct {
	attrHints []string
	labels    []string
	pattern   *regexp.Regexp
}

var (
	estadoSpec = fieldSpec{
		attrHints: []string{"estado"},
		labels:    []string{"estado"},
		pattern:   regexp.MustCompile(`(?i)(?:Estado|Status)[:\s]+([^\n<>]+)`),
	}
	origenSpec = fieldSpec{
		attrHints: []string{"origen"},
		labels:    []string{"origen"},
		pattern:   regexp.MustCompile(`(?i)Origen[:\s]+([^\n<>]+)`),
	}
	destinoSpec = fieldSpec{
		attrHints: []string{"destino"},
		labels:    []string{"destino"},
		pattern:   regexp.MustCompile(`(?i)Destino[:\s]+([^\n<>]+)`),
	}
	entregadoSpec = fieldSpec{
		attrHints: []string{"receptor", "entregado"},
		labels:    []string{"entregado", "recibido"},
		pattern:   regexp.MustCompile(`(?i)Entregado a[:\s]+([^\n<>]+)`),
	}
	fechaEntregaSpec = fieldSpec{
		attrHints: []string{"fecha"},
		labels:    []string{"fecha"},
		pattern:   regexp.MustCompile(`(?i)Fecha[^\n<>]*entrega[:\s]+([^\n<>]+)`),
	}
)

func (c *Client) Scrape(ctx context.Context, parcelID string) (laar.Result, error) {
	u, err := c.TrackingURL(parcelID)
	if err != nil {
		return laar.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return laar.Result{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return laar.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return laar.Result{}, fmt.Errorf("laar tracking http %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return laar.Result{}, errors.Wrap(err, "parse html")
	}
	p := newPage(doc)

	res := laar.Result{
		ParcelID:        parcelID,
		Status:          p.extract(estadoSpec),
		OriginCity:      p.extract(origenSpec),
		DestinationCity: p.extract(destinoSpec),
		DeliveredTo:     p.extract(entregadoSpec),
		DeliveredAt:     p.extract(fechaEntregaSpec),
	}
	if res.Status == "" {
		res.Status = status.NotAvailable
	}
	return res, nil
}

type page struct {
	root     *html.Node
	fullText string
}

func newPage(root *html.Node) *page {
	return &page{root: root, fullText: nodeText(root, "\n")}
}

func (p *page) extract(spec fieldSpec) string {
	if v := p.byAttrHint(spec.attrHints); v != "" {
		return v
	}
	for _, label := range spec.labels {
		if v := p.inTable(label); v != "" {
			return v
		}
	}
	if m := spec.pattern.FindStringSubmatch(p.fullText); m != nil {
		return clean(m[1])
	}
	return ""
}

// byAttrHint returns the text of the first element whose class or id
// attribute contains one of the hints.
func (p *page) byAttrHint(hints []string) string {
	for _, hint := range hints {
		var found string
		walk(p.root, func(n *html.Node) bool {
			if n.Type != html.ElementNode {
				return true
			}
			for _, a := range n.Attr {
				if a.Key != "class" && a.Key != "id" {
					continue
				}
				if strings.Contains(strings.ToLower(a.Val), hint) {
					if t := clean(nodeText(n, " ")); t != "" {
						found = t
						return false
					}
				}
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// inTable finds a table row whose text mentions the label and returns the
// text of its last cell.
func (p *page) inTable(label string) string {
	var found string
	walk(p.root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "tr" {
			return true
		}
		rowText := strings.ToLower(nodeText(n, " "))
		if !strings.Contains(rowText, label) {
			return true
		}
		var lastCell *html.Node
		walk(n, func(cell *html.Node) bool {
			if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
				lastCell = cell
			}
			return true
		})
		if lastCell != nil {
			if t := clean(nodeText(lastCell, " ")); t != "" && !strings.EqualFold(t, label) {
				found = t
				return false
			}
		}
		return true
	})
	return found
}

// walk runs fn over the tree in document order; fn returning false stops
// the traversal.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func nodeText(n *html.Node, sep string) string {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := nodeText(c, sep); strings.TrimSpace(t) != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, sep)
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
