package acquire

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httputil"
	"time"

	"github.com/WIZARDISHUNGRY/depthcut/internal/logger"
	"github.com/die-net/lrucache"
	"github.com/gregjones/httpcache"
	"github.com/pkg/errors"
)

const (
	ttl      = time.Hour
	maxBytes = 256 * 1024 * 1024
)

var (
	client       *http.Client
	flagDumpHttp = false
)

func init() {
	var err error
	c := lrucache.New(maxBytes, int64(ttl.Seconds()))
	client = &http.Client{Transport: httpcache.NewTransport(c)}
	client.Jar, err = cookiejar.New(nil)
	if err != nil {
		panic(err)
	}
}

// DumpHttp logs request and response headers.
func DumpHttp(b bool) { flagDumpHttp = b }

func fetch(ctx context.Context, url string) ([]byte, error) {
	log := logger.Entry(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/*")
	req.Header.Set("User-Agent", "depthcut")

	if flagDumpHttp {
		if s, err := httputil.DumpRequest(req, false); err == nil {
			log.Debug(string(s))
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http get")
	}
	defer resp.Body.Close()

	if flagDumpHttp {
		if s, err := httputil.DumpResponse(resp, false); err == nil {
			log.Debug(string(s))
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad http code %d", resp.StatusCode)
	}
	log.WithField("cached", resp.Header.Get(httpcache.XFromCache) != "").Debug("fetched image")
	return readAll(resp.Body)
}
