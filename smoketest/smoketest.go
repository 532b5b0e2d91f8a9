package smoketest

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	raidohttp "github.com/raidolabs/raido/http"
	"github.com/raidolabs/raido/models"
	"github.com/segmentio/encoding/json"
)

// Options configures a smoke test run against a Raido server's public API.
type Options struct {
	// The server endpoint the probe calls.
	Endpoint string

	// The grid precision the target registry is deployed at.
	Precision uint

	// The key probe requests are signed with. Must belong to an authorized
	// identity.
	Key *ecdsa.PrivateKey

	UserAgent string
	Transport http.RoundTripper
}

// Results reports the outcome of a smoke test run.
type Results struct {
	VolumeID models.VolumeID `json:"volume_id"`
	Passed   bool            `json:"passed"`
	Error    string          `json:"error,omitempty"`

	UpsertDuration time.Duration `json:"upsert_duration"`
	QueryDuration  time.Duration `json:"query_duration"`
	DeleteDuration time.Duration `json:"delete_duration"`
}

// Run registers a probe volume over a footprint near the south pole, queries
// it back through the spatial index, deletes it, and reports the outcome.
func Run(ctx context.Context, opts Options) (Results, error) {
	res := Results{VolumeID: probeVolumeID()}

	client := http.Client{Transport: opts.Transport}

	now := time.Now().Unix()
	upsert := map[string]any{
		"id":            res.VolumeID,
		"vertices":      probeFootprint(),
		"min_height":    0,
		"max_height":    120,
		"start_time":    now,
		"end_time":      now + 60,
		"url":           "https://raido.invalid/smoke-test",
		"entity_number": 0,
	}

	start := time.Now()
	var vol models.Volume
	if err := send(ctx, &client, opts, http.MethodPost, opts.Endpoint+"/volumes", upsert, &vol); err != nil {
		res.Error = err.Error()
		return res, errors.New("upserting probe volume failed").Wrap(err)
	}
	res.UpsertDuration = time.Since(start)

	if len(vol.Cells) == 0 {
		res.Error = "probe volume has no cells"
		return res, errors.New(res.Error)
	}

	start = time.Now()
	queryURL := fmt.Sprintf("%s/query?cell=%s&precision=%d&min_height=0&max_height=120&start_time=%d&end_time=%d",
		opts.Endpoint,
		vol.Cells[0].Hex(),
		opts.Precision,
		now,
		now+60,
	)
	var out struct {
		IDs []models.VolumeID `json:"ids"`
	}
	if err := send(ctx, &client, opts, http.MethodGet, queryURL, nil, &out); err != nil {
		res.Error = err.Error()
		return res, errors.New("querying probe volume failed").Wrap(err)
	}
	res.QueryDuration = time.Since(start)

	found := false
	for _, id := range out.IDs {
		if id == res.VolumeID {
			found = true
			break
		}
	}
	if !found {
		res.Error = "probe volume is not returned by the query"
		return res, errors.New(res.Error).
			WithTag("volume_id", res.VolumeID.Hex())
	}

	start = time.Now()
	if err := send(ctx, &client, opts, http.MethodDelete, opts.Endpoint+"/volumes/"+res.VolumeID.Hex(), nil, nil); err != nil {
		res.Error = err.Error()
		return res, errors.New("deleting probe volume failed").Wrap(err)
	}
	res.DeleteDuration = time.Since(start)

	res.Passed = true
	return res, nil
}

// HandleSmokeTest runs the smoke test and reports its results.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := Run(ctx, opts)
		if err != nil {
			logs.Warn(err)
		}

		b, err := json.Marshal(res)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	}
}

func send(ctx context.Context, client *http.Client, opts Options, method, url string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errors.New("encoding request failed").Wrap(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return errors.New("creating request failed").Wrap(err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	if method != http.MethodGet {
		sig, err := raidohttp.SignBody(body, opts.Key)
		if err != nil {
			return err
		}
		req.Header.Set(raidohttp.HeaderSignature, sig)
	}

	res, err := client.Do(req)
	if err != nil {
		return errors.New("sending request failed").Wrap(err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.New("reading response failed").Wrap(err)
	}
	if res.StatusCode != http.StatusOK {
		return errors.New("request was rejected").
			WithTag("status", res.StatusCode).
			WithTag("body", string(b))
	}

	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return errors.New("decoding response failed").Wrap(err)
		}
	}
	return nil
}

// probeVolumeID derives a fresh 256-bit id for each run.
func probeVolumeID() models.VolumeID {
	u := uuid.New()
	return common.BytesToHash(crypto.Keccak256(u[:]))
}

// probeFootprint is a small triangle near the south pole, far from any
// plausible production traffic.
func probeFootprint() []models.Vertex {
	return []models.Vertex{
		vertex(-899, -1799),
		vertex(-898, -1798),
		vertex(-899, -1798),
	}
}

// vertex scales tenths of degrees to fixed-point 10^18.
func vertex(latTenths, lngTenths int64) models.Vertex {
	tenth := new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)
	return models.Vertex{
		Lat: new(big.Int).Mul(big.NewInt(latTenths), tenth),
		Lng: new(big.Int).Mul(big.NewInt(lngTenths), tenth),
	}
}
