package forward

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/raidolabs/raido/ledger"
	"github.com/segmentio/encoding/json"
)

const sendTimeout = time.Second * 10

// Forwarder pushes notification events to an external endpoint as they are
// appended. Each payload is signed with the server key so the receiver can
// verify its origin. Delivery is best effort: the ledger remains the source
// of truth and consumers can always re-read it by range.
type Forwarder struct {
	// The endpoint events are posted to.
	Endpoint string

	// The ledger to follow.
	Ledger *ledger.Log

	// The server key payloads are signed with.
	Key *ecdsa.PrivateKey

	Transport http.RoundTripper
}

// Start follows the ledger until the context is canceled.
func (f *Forwarder) Start(ctx context.Context) {
	subID, events := f.Ledger.Subscribe()

	go func() {
		defer f.Ledger.Unsubscribe(subID)

		for {
			select {
			case <-ctx.Done():
				return

			case e, ok := <-events:
				if !ok {
					return
				}
				if err := f.send(ctx, e); err != nil {
					instrumentEventSendError(f.Endpoint, err)
					logs.Warn(errors.New("forwarding event failed").
						WithTag("endpoint", f.Endpoint).
						WithTag("seq", e.Seq).
						Wrap(err))
				}
			}
		}
	}()
}

func (f *Forwarder) send(ctx context.Context, e ledger.Event) error {
	defer instrumentEventSendLatency(f.Endpoint, time.Now())

	payload, err := json.Marshal(e)
	if err != nil {
		return errors.New("encoding event failed").Wrap(err)
	}

	sig, err := crypto.Sign(crypto.Keccak256(payload), f.Key)
	if err != nil {
		return errors.New("signing event failed").Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.New("creating request failed").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Raido-Signature", hexutil.Encode(sig))

	client := http.Client{Transport: f.Transport}
	res, err := client.Do(req)
	if err != nil {
		return errors.New("posting event failed").Wrap(err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return errors.New("event was rejected").
			WithTag("status", res.StatusCode)
	}

	instrumentEventSend(f.Endpoint)
	return nil
}
