package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/metraton/warden/internal/episode"
	"github.com/metraton/warden/internal/model"
)

var episodeCmd = &cobra.Command{
	Use:   "episode",
	Short: "Inspect and decide realize-tier episodes",
	Long: `An episode is a realize-tier plan awaiting or holding approval.
These commands are the human side of the two-phase protocol: review the
plan, then approve or reject it by digest.`,
}

var (
	episodeListState string
	episodeListLimit int
	episodeListYAML  bool
	episodeActor     string
	episodeDigest    string
)

var episodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List episodes, newest first",
	RunE:  runEpisodeList,
}

var episodeShowCmd = &cobra.Command{
	Use:   "show <episode-id>",
	Short: "Show one episode including its full plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpisodeShow,
}

var episodeApproveCmd = &cobra.Command{
	Use:   "approve <episode-id>",
	Short: "Approve an episode's plan",
	Long: `Records an attributable approval. The --digest must match the
episode's plan digest (shown by 'episode show'), so an approval always
names the exact plan the approver read.`,
	Args: cobra.ExactArgs(1),
	RunE: runEpisodeApprove,
}

var episodeRejectCmd = &cobra.Command{
	Use:   "reject <episode-id>",
	Short: "Reject an episode's plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpisodeReject,
}

var episodePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete episodes past the retention window",
	RunE:  runEpisodePurge,
}

func init() {
	episodeCmd.AddCommand(episodeListCmd, episodeShowCmd, episodeApproveCmd, episodeRejectCmd, episodePurgeCmd)

	episodeListCmd.Flags().StringVar(&episodeListState, "state", "", "Filter by state (unapproved, approved, rejected)")
	episodeListCmd.Flags().IntVar(&episodeListLimit, "limit", 0, "Maximum episodes to list (0 = all)")
	episodeListCmd.Flags().BoolVar(&episodeListYAML, "yaml", false, "Emit YAML instead of a table")

	episodeApproveCmd.Flags().StringVar(&episodeActor, "actor", defaultActor(), "Who is deciding")
	episodeApproveCmd.Flags().StringVar(&episodeDigest, "digest", "", "Plan digest being approved (required)")
	episodeApproveCmd.MarkFlagRequired("digest")

	episodeRejectCmd.Flags().StringVar(&episodeActor, "actor", defaultActor(), "Who is deciding")
}

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}

func runEpisodeList(cmd *cobra.Command, args []string) error {
	if episodeListState != "" && !model.ApprovalState(episodeListState).Valid() {
		return fmt.Errorf("unknown state %q", episodeListState)
	}

	wardenDir, cfg, err := openWorkspace()
	if err != nil {
		return err
	}

	var episodes []*model.Episode
	if daemonAvailable(wardenDir, cfg) {
		resp, err := daemonClient(wardenDir, cfg).SendCommand("episode.list", map[string]any{
			"state": episodeListState,
			"limit": episodeListLimit,
		})
		if err != nil {
			return fmt.Errorf("episode list: %w", err)
		}
		if !resp.Success {
			return respFailure("episode list", resp)
		}
		var listing struct {
			Episodes []*model.Episode `json:"episodes"`
		}
		if err := json.Unmarshal(resp.Data, &listing); err != nil {
			return fmt.Errorf("decode episodes: %w", err)
		}
		episodes = listing.Episodes
	} else {
		core, err := newCore(wardenDir, cfg)
		if err != nil {
			return err
		}
		defer core.Close()
		episodes, err = core.Episodes.List(episode.ListFilter{
			State: model.ApprovalState(episodeListState),
			Limit: episodeListLimit,
		})
		if err != nil {
			return err
		}
	}

	if episodeListYAML {
		out, err := yaml.Marshal(episodes)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}

	if len(episodes) == 0 {
		fmt.Println("no episodes")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tPERSONA\tTIER\tCONSUMED\tCREATED\tDECIDED BY")
	for _, ep := range episodes {
		decidedBy := ep.DecidedBy
		if decidedBy == "" {
			decidedBy = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\t%s\n",
			ep.ID, ep.State, ep.Persona, ep.Tier, ep.Consumed,
			ep.CreatedAt.Local().Format(time.RFC3339), decidedBy)
	}
	return w.Flush()
}

func runEpisodeShow(cmd *cobra.Command, args []string) error {
	id := args[0]
	if !model.ValidateEpisodeID(id) {
		return fmt.Errorf("malformed episode id %q", id)
	}

	wardenDir, cfg, err := openWorkspace()
	if err != nil {
		return err
	}
	core, err := newCore(wardenDir, cfg)
	if err != nil {
		return err
	}
	defer core.Close()

	ep, err := core.Episodes.Get(id)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(ep)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runEpisodeApprove(cmd *cobra.Command, args []string) error {
	return decideEpisode(args[0], true)
}

func runEpisodeReject(cmd *cobra.Command, args []string) error {
	return decideEpisode(args[0], false)
}

func decideEpisode(id string, approved bool) error {
	if !model.ValidateEpisodeID(id) {
		return fmt.Errorf("malformed episode id %q", id)
	}

	wardenDir, cfg, err := openWorkspace()
	if err != nil {
		return err
	}

	verb := "rejected"
	command := "episode.reject"
	if approved {
		verb = "approved"
		command = "episode.approve"
	}

	var ep *model.Episode
	if daemonAvailable(wardenDir, cfg) {
		resp, err := daemonClient(wardenDir, cfg).SendCommand(command, map[string]string{
			"episode_id":  id,
			"actor":       episodeActor,
			"plan_digest": episodeDigest,
		})
		if err != nil {
			return fmt.Errorf("episode %s: %w", verb, err)
		}
		if !resp.Success {
			return respFailure("episode "+verb, resp)
		}
		ep = &model.Episode{}
		if err := json.Unmarshal(resp.Data, ep); err != nil {
			return fmt.Errorf("decode episode: %w", err)
		}
	} else {
		core, err := newCore(wardenDir, cfg)
		if err != nil {
			return err
		}
		defer core.Close()
		ep, err = core.Engine.Decide(model.Confirmation{
			EventID:    uuid.New().String(),
			EpisodeID:  id,
			Actor:      episodeActor,
			PlanDigest: episodeDigest,
			Approved:   approved,
			At:         time.Now().UTC(),
		})
		if err != nil {
			return err
		}
	}

	fmt.Printf("episode %s %s by %s\n", ep.ID, verb, ep.DecidedBy)
	return nil
}

func runEpisodePurge(cmd *cobra.Command, args []string) error {
	wardenDir, cfg, err := openWorkspace()
	if err != nil {
		return err
	}
	core, err := newCore(wardenDir, cfg)
	if err != nil {
		return err
	}
	defer core.Close()

	purged, err := core.Engine.SweepExpired()
	if err != nil {
		return err
	}
	fmt.Printf("purged %d expired episode(s)\n", purged)
	return nil
}
