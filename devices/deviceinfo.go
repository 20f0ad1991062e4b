package devices

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/buger/jsonparser"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// setupPort is the receiver's local setup API. It answers device metadata
// over plain HTTP even when the device is otherwise idle.
const setupPort = 8008

// ErrDeviceInfoUnavailable means the receiver's setup endpoint did not
// answer usably.
var ErrDeviceInfoUnavailable = errors.New("devices: device info unavailable")

func newSetupClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = 3 * time.Second
	client.Logger = log.New(io.Discard, "", 0)
	return client
}

// FetchFriendlyName asks the receiver's setup endpoint for its configured
// name. Discovery normally gets the name from the fn= TXT record; this is
// the fallback for entries that did not carry one.
func FetchFriendlyName(ctx context.Context, host string) (string, error) {
	url := fmt.Sprintf("http://%s:%d/setup/eureka_info?params=name", host, setupPort)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "devices: build device info request")
	}

	resp, err := newSetupClient().Do(req)
	if err != nil {
		return "", errors.Wrap(ErrDeviceInfoUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(ErrDeviceInfoUnavailable, "status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(ErrDeviceInfoUnavailable, err.Error())
	}

	name, err := jsonparser.GetString(body, "name")
	if err != nil || name == "" {
		return "", errors.Wrap(ErrDeviceInfoUnavailable, "name missing from setup response")
	}
	return name, nil
}
