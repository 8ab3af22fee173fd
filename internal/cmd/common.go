// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mia-platform/icedispatch/internal/servant/operations"
)

const sliceFileExtension = ".ice"

var (
	errNoArguments     = errors.New("no arguments provided")
	errInvalidVariant  = errors.New("invalid servant variant provided")
	errMissingArgument = errors.New("missing argument")

	// availableVariants holds the servant variants and their description
	// for command completion and help messages.
	availableVariants = map[string]string{
		operations.VariantSync:  "operations complete before the servant returns",
		operations.VariantAsync: "operations complete through futures resolved later",
	}
)

// handleError will do custom print error handling based on the type of error received.
// it will return nil if the command must return 0 exit code, otherwise it will return
// the original error.
func handleError(cmd *cobra.Command, err error) error {
	switch {
	case errors.Is(err, errNoArguments):
		_ = cmd.Usage() // do not check error as we cannot do much about it
		return nil
	case errors.Is(err, errInvalidVariant), errors.Is(err, errMissingArgument):
		cmd.PrintErrln(err)
		_ = cmd.Usage() // do not check error as we cannot do much about it
		return err
	default:
		cmd.PrintErrln(err)
		return err
	}
}

// unwrappedError returns the unwrapped error if available, otherwise it returns the original error.
func unwrappedError(err error) error {
	if unwrapped := errors.Unwrap(err); unwrapped != nil {
		return unwrapped
	}

	return err
}

func variantCompletion(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var comps []string
	for name, description := range availableVariants {
		if strings.HasPrefix(name, toComplete) {
			comps = append(comps, cobra.CompletionWithDesc(name, description))
		}
	}

	return comps, cobra.ShellCompDirectiveNoFileComp
}

// collectSliceFiles expands paths into the definition files they name.
// Directories contribute their .ice files without recursion.
func collectSliceFiles(paths []string) ([]string, error) {
	collected := make([]string, 0)
	for _, p := range paths {
		cleanedPath := filepath.Clean(p)
		err := filepath.Walk(cleanedPath, func(walkedPath string, info fs.FileInfo, err error) error {
			if err != nil {
				return fmt.Errorf("definition file %q: %w", walkedPath, unwrappedError(err))
			}

			switch {
			case !info.IsDir() && (cleanedPath == walkedPath || filepath.Ext(walkedPath) == sliceFileExtension):
				collected = append(collected, walkedPath)
			case info.IsDir() && cleanedPath != walkedPath: // skip directories if is not the root path
				return filepath.SkipDir
			}

			return nil
		})

		if err != nil {
			return nil, err
		}
	}

	return collected, nil
}
