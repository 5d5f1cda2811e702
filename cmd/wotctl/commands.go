package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trustgraph/engine/actors"
	"trustgraph/importpipeline"
	"trustgraph/scoring"
)

func serveCmd() *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the importer, scheduler and subscription deployer",
		Run: func(cmd *cobra.Command, args []string) {
			conf := loadConfig()
			a := newApp(conf)
			terminate := make(chan struct{})
			actors.SetTerminateChan(terminate)
			a.start()
			defer a.stop()

			if interactive {
				cliListener(a, terminate)
				return
			}
			<-terminate
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", true, "listen for inspector keypresses while serving")
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "drop into the keypress-driven live inspector without starting background jobs",
		Run: func(cmd *cobra.Command, args []string) {
			conf := loadConfig()
			a := newApp(conf)
			terminate := make(chan struct{})
			cliListener(a, terminate)
		},
	}
}

// importFile is the on-disk shape `wotctl import` reads: a
// self-contained trust list, useful for seeding a fresh store or
// replaying a capture without a live relay round trip.
type importFile struct {
	ID                 string                       `json:"id"`
	Edition            int64                        `json:"edition"`
	RequestURI         string                       `json:"requestURI,omitempty"`
	Nickname           *string                      `json:"nickname,omitempty"`
	PublishesTrustList bool                         `json:"publishesTrustList,omitempty"`
	Contexts           []string                     `json:"contexts,omitempty"`
	Properties         map[string]string            `json:"properties,omitempty"`
	Trusts             []importpipeline.ParsedTrust `json:"trusts"`
}

func (f importFile) identityUpdate() *scoring.IdentityUpdate {
	if f.RequestURI == "" && f.Nickname == nil && len(f.Contexts) == 0 && len(f.Properties) == 0 {
		return nil
	}
	contexts := make(map[string]struct{}, len(f.Contexts))
	for _, c := range f.Contexts {
		contexts[c] = struct{}{}
	}
	return &scoring.IdentityUpdate{
		RequestURI:         f.RequestURI,
		Nickname:           f.Nickname,
		PublishesTrustList: f.PublishesTrustList,
		Contexts:           contexts,
		Properties:         f.Properties,
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "reconcile a trust list read from a local JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := loadConfig()
			a := newApp(conf)

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var f importFile
			if err := json.Unmarshal(raw, &f); err != nil {
				return err
			}
			entries := make([]scoring.TrustListEntry, 0, len(f.Trusts))
			for _, t := range f.Trusts {
				entries = append(entries, scoring.TrustListEntry{Trustee: t.Trustee, Value: t.Value, Comment: t.Comment})
			}
			result, err := a.engine.ImportEdition(f.ID, f.Edition, true, f.identityUpdate(), entries)
			if err != nil {
				return err
			}
			fmt.Printf("created %d, updated %d, deleted %d trust edges\n", result.Created, result.Updated, result.Deleted)
			return nil
		},
	}
}
