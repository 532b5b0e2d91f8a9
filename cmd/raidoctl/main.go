package main

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/crypto"
	raidohttp "github.com/raidolabs/raido/http"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
)

// rootOptions holds the global flags shared by all commands.
type rootOptions struct {
	Endpoint   string
	PrivateKey string
	Timeout    time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "raidoctl",
		Short:         "Client for the Raido flight-volume registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Endpoint, "endpoint", "http://localhost:4100", "registry endpoint")
	cmd.PersistentFlags().StringVar(&opts.PrivateKey, "key", os.Getenv("RAIDO_CLIENT_KEY"), "hex private key used to sign mutating calls")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", time.Second*15, "request timeout")

	cmd.AddCommand(newUpsertCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newAllowCommand(opts))
	cmd.AddCommand(newRevokeCommand(opts))
	cmd.AddCommand(newTransferOwnerCommand(opts))
	cmd.AddCommand(newScanCommand(opts))

	return cmd
}

func (o *rootOptions) key() (*ecdsa.PrivateKey, error) {
	if o.PrivateKey == "" {
		return nil, errors.New("no private key is set, pass --key or set RAIDO_CLIENT_KEY")
	}
	return crypto.HexToECDSA(o.PrivateKey)
}

// do sends one request, signing the body on mutating calls, and reports the
// round-trip latency.
func (o *rootOptions) do(method, path string, in, out any) (time.Duration, error) {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return 0, errors.New("encoding request failed").Wrap(err)
		}
	}

	req, err := http.NewRequest(method, o.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return 0, errors.New("creating request failed").Wrap(err)
	}

	if method != http.MethodGet {
		key, err := o.key()
		if err != nil {
			return 0, err
		}
		sig, err := raidohttp.SignBody(body, key)
		if err != nil {
			return 0, err
		}
		req.Header.Set(raidohttp.HeaderSignature, sig)
	}

	client := http.Client{Timeout: o.Timeout}

	start := time.Now()
	res, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, errors.New("sending request failed").Wrap(err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return latency, errors.New("reading response failed").Wrap(err)
	}
	if res.StatusCode != http.StatusOK {
		return latency, errors.New("request was rejected").
			WithTag("status", res.StatusCode).
			WithTag("body", string(b))
	}

	if out != nil && len(b) != 0 {
		if err := json.Unmarshal(b, out); err != nil {
			return latency, errors.New("decoding response failed").Wrap(err)
		}
	}
	return latency, nil
}

func printResult(v any, latency time.Duration) error {
	if v != nil {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	}
	fmt.Printf("ok (%s)\n", latency)
	return nil
}
