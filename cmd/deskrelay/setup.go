package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/deskrelay/internal/authcode"
	"github.com/postalsys/deskrelay/internal/prompt"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long:  "Write a configuration file for a client, agent or relay by answering a few questions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("setup needs an interactive terminal")
			}
			_, err := prompt.Setup()
			return err
		},
	}
}

func embedCmd() *cobra.Command {
	var (
		src string
		dst string
	)

	cmd := &cobra.Command{
		Use:   "embed <auth-code>",
		Short: "Build a client executable with an auth code baked in",
		Long: `Copy a deskrelay executable and append an auth code to it.

Running the copy as a client joins the agent without asking for a code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := authcode.Normalize(args[0])
			if err != nil {
				return err
			}
			if src == "" {
				src, err = os.Executable()
				if err != nil {
					return fmt.Errorf("locate executable: %w", err)
				}
			}
			if dst == "" {
				dst = filepath.Join(filepath.Dir(src), "deskrelay-"+code+filepath.Ext(src))
			}
			if err := authcode.Embed(src, dst, code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dst)
			return nil
		},
	}

	cmd.Flags().StringVar(&src, "from", "", "Source executable (default: this one)")
	cmd.Flags().StringVarP(&dst, "output", "o", "", "Output path")

	return cmd
}
