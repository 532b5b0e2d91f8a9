package main

import (
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

func newAllowCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "allow <address>",
		Short: "Grant a user mutation rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return accessChange(root, http.MethodPost, "/allowlist", args[0])
		},
	}
}

func newRevokeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <address>",
		Short: "Revoke a user's mutation rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return errors.New("address is malformed").
					WithTag("address", args[0])
			}
			latency, err := root.do(http.MethodDelete, "/allowlist/"+args[0], nil, nil)
			if err != nil {
				return err
			}
			return printResult(nil, latency)
		},
	}
}

func newTransferOwnerCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer-owner <address>",
		Short: "Transfer registry ownership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return accessChange(root, http.MethodPost, "/owner", args[0])
		},
	}
}

func accessChange(root *rootOptions, method, path, address string) error {
	if !common.IsHexAddress(address) {
		return errors.New("address is malformed").
			WithTag("address", address)
	}

	body := map[string]string{"identity": address}

	latency, err := root.do(method, path, body, nil)
	if err != nil {
		return err
	}
	return printResult(nil, latency)
}
