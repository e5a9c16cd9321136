// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// intake-datafeedkey generates a data-feed key.
//
// The raw key is printed to stdout, once; only its hash is kept. The
// hashed entry is written as a key file to --output, which the server
// loads from its key directory. With --recipient the file is sealed
// with age and must be named *.json.age:
//
//	intake-datafeedkey --subject acc-1 --display-name "Billing" \
//	    --feed-pattern 'BILLING-.*' --meta Component=billing \
//	    --output /var/lib/intake/keys/acc-1.json
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/intake/lib/datafeedkey"
	"github.com/bureau-foundation/intake/lib/process"
	"github.com/bureau-foundation/intake/lib/sealed"
	"github.com/bureau-foundation/intake/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	subject     string
	subjectType string
	displayName string
	algorithm   string
	validFor    time.Duration
	feedPattern string
	meta        map[string]string
	recipients  []string
	output      string
	force       bool
}

func run(args []string, stdout io.Writer) error {
	var (
		opts        options
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("intake-datafeedkey", pflag.ContinueOnError)
	flagSet.StringVar(&opts.subject, "subject", "", "subject id the key authenticates as (required)")
	flagSet.StringVar(&opts.subjectType, "subject-type", "AccountId", "attribute the subject id corresponds to")
	flagSet.StringVar(&opts.displayName, "display-name", "", "human-readable subject name")
	flagSet.StringVar(&opts.algorithm, "algorithm", "argon2id", "hash algorithm: argon2id or bcrypt")
	flagSet.DurationVar(&opts.validFor, "valid-for", 365*24*time.Hour, "time until the key expires")
	flagSet.StringVar(&opts.feedPattern, "feed-pattern", "", "regular expression the feed name must match")
	flagSet.StringToStringVar(&opts.meta, "meta", nil, "stream attribute set on every upload (key=value, repeatable)")
	flagSet.StringArrayVar(&opts.recipients, "recipient", nil, "age recipient to seal the key file to (repeatable)")
	flagSet.StringVarP(&opts.output, "output", "o", "", "key file to write (required)")
	flagSet.BoolVar(&opts.force, "force", false, "overwrite an existing key file")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %w", process.ErrUsage, err)
	}
	if showVersion {
		fmt.Fprintf(stdout, "intake-datafeedkey %s\n", version.Info())
		return nil
	}
	if err := opts.validate(); err != nil {
		return fmt.Errorf("%w: %w", process.ErrUsage, err)
	}

	raw, file, err := generate(opts, time.Now())
	if err != nil {
		return err
	}
	if err := writeKeyFile(opts.output, file, opts.force); err != nil {
		return err
	}
	fmt.Fprintln(stdout, raw)
	return nil
}

func (o *options) validate() error {
	if o.subject == "" {
		return errors.New("--subject is required")
	}
	if o.output == "" {
		return errors.New("--output is required")
	}
	if o.validFor <= 0 {
		return errors.New("--valid-for must be positive")
	}
	sealedName := strings.HasSuffix(o.output, datafeedkey.SealedSuffix)
	if len(o.recipients) > 0 && !sealedName {
		return fmt.Errorf("--output must end in %s when sealing", datafeedkey.SealedSuffix)
	}
	if len(o.recipients) == 0 && sealedName {
		return fmt.Errorf("--output ends in %s but no --recipient was given", datafeedkey.SealedSuffix)
	}
	if !datafeedkey.IsKeyFile(filepath.Base(o.output)) {
		return fmt.Errorf("--output %s is not a name the server loads (*.json or *%s)", o.output, datafeedkey.SealedSuffix)
	}
	for _, recipient := range o.recipients {
		if err := sealed.ValidateRecipient(recipient); err != nil {
			return err
		}
	}
	return nil
}

// generate returns a new raw key and the key file holding its hash.
func generate(opts options, now time.Time) (string, []byte, error) {
	algorithm, err := datafeedkey.ParseAlgorithm(opts.algorithm)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", process.ErrUsage, err)
	}
	var hasher datafeedkey.Hasher
	for _, candidate := range datafeedkey.DefaultHashers() {
		if candidate.Algorithm() == algorithm {
			hasher = candidate
		}
	}

	raw, err := datafeedkey.GenerateRawKey(algorithm)
	if err != nil {
		return "", nil, err
	}
	salt, err := hasher.NewSalt()
	if err != nil {
		return "", nil, err
	}
	hash, err := hasher.Hash(raw, salt)
	if err != nil {
		return "", nil, err
	}

	key := datafeedkey.HashedKey{
		Hash:              hash,
		Salt:              salt,
		HashAlgorithm:     algorithm,
		SubjectID:         opts.subject,
		SubjectType:       opts.subjectType,
		DisplayName:       opts.displayName,
		StreamMetaData:    opts.meta,
		ExpiryDateEpochMs: now.Add(opts.validFor).UnixMilli(),
		FeedNamePattern:   opts.feedPattern,
	}
	if err := key.Validate(); err != nil {
		return "", nil, fmt.Errorf("%w: %w", process.ErrUsage, err)
	}
	file, err := datafeedkey.MarshalKeyFile([]datafeedkey.HashedKey{key})
	if err != nil {
		return "", nil, err
	}
	if len(opts.recipients) > 0 {
		file, err = sealed.Seal(file, opts.recipients)
		if err != nil {
			return "", nil, err
		}
	}
	return raw, file, nil
}

// writeKeyFile writes through a hidden temporary so the server's
// directory watch never sees a partial file.
func writeKeyFile(path string, data []byte, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to replace it)", path)
		}
	}
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	defer os.Remove(temporary.Name())
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := os.Chmod(temporary.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(temporary.Name(), path)
}
