package osm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maps4go/maps4go/generator/cache"
	"github.com/maps4go/maps4go/generator/geo"
)

// DefaultEndpoint is the public Overpass API instance queried when the
// configuration does not name one.
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// ClientConfig holds the options for creating a Client.
type ClientConfig struct {
	Log *slog.Logger
	// Endpoint is the Overpass API interpreter URL.
	Endpoint string
	// Cache, if set, stores raw Overpass responses keyed by bounding box so
	// regenerating a map does not re-query the API.
	Cache *cache.Cache
	// Timeout bounds a single Overpass request. Defaults to 3 minutes; big
	// city extracts are slow to assemble server-side.
	Timeout time.Duration
	// HTTPClient overrides the http.Client, used by tests.
	HTTPClient *http.Client
}

// Client downloads OSM extracts from an Overpass API endpoint.
type Client struct {
	log      *slog.Logger
	endpoint string
	cache    *cache.Cache
	timeout  time.Duration
	http     *http.Client
}

// New creates a Client from conf, applying defaults for unset fields.
func (conf ClientConfig) New() *Client {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Endpoint == "" {
		conf.Endpoint = DefaultEndpoint
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 3 * time.Minute
	}
	if conf.HTTPClient == nil {
		conf.HTTPClient = &http.Client{}
	}
	return &Client{
		log:      conf.Log,
		endpoint: conf.Endpoint,
		cache:    conf.Cache,
		timeout:  conf.Timeout,
		http:     conf.HTTPClient,
	}
}

// Query builds the Overpass QL statement fetching all ways and relations in
// the bounding box with their member nodes.
func Query(bbox geo.BBox) string {
	var b strings.Builder
	b.WriteString("[out:xml][timeout:180];(")
	fmt.Fprintf(&b, "node(%s);", bbox)
	fmt.Fprintf(&b, "way(%s);", bbox)
	fmt.Fprintf(&b, "relation(%s);", bbox)
	b.WriteString(");out body;>;out skel qt;")
	return b.String()
}

// Fetch downloads and decodes the OSM extract for the bounding box.
func (c *Client) Fetch(ctx context.Context, bbox geo.BBox) (*Data, error) {
	if !bbox.Valid() {
		return nil, fmt.Errorf("osm: invalid bounds %v", bbox)
	}
	var (
		raw []byte
		err error
	)
	if c.cache != nil {
		raw, err = c.cache.GetOrFill("osm", bbox.String(), func() ([]byte, error) {
			return c.download(ctx, bbox)
		})
	} else {
		raw, err = c.download(ctx, bbox)
	}
	if err != nil {
		return nil, err
	}
	data, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if data.Bounds == (geo.BBox{}) {
		data.Bounds = bbox
	}
	return data, nil
}

func (c *Client) download(ctx context.Context, bbox geo.BBox) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{"data": {Query(bbox)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("osm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.log.Debug("Downloading OSM extract.", "bbox", bbox.String(), "endpoint", c.endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osm: query overpass: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("osm: overpass returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("osm: read response: %w", err)
	}
	return raw, nil
}
