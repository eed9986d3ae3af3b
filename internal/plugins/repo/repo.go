// Package repoplugin is the "repos" backend. It keeps a set of git clones
// under a root directory in line with the desired repository list.
package repoplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/alexisbeaulieu97/stated/internal/config"
	"github.com/alexisbeaulieu97/stated/internal/plugin"
	"github.com/alexisbeaulieu97/stated/internal/state"
)

const (
	// Name is the domain key of this backend.
	Name    = "repos"
	version = "1.0.0"

	idField    = "name"
	remoteName = "origin"
)

// Repository is one managed clone. Name doubles as the directory under root.
type Repository struct {
	Name   string `yaml:"name" validate:"required,plugin_name"`
	URL    string `yaml:"url" validate:"required,git_url"`
	Branch string `yaml:"branch,omitempty"`
}

// Config is the "repos" domain document.
type Config struct {
	Repositories []Repository `yaml:"repositories"`
	// Prune removes clones under root that are not listed.
	Prune bool `yaml:"prune,omitempty"`
}

// Validate checks every repository and rejects duplicate names.
func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Repositories))
	for _, repo := range c.Repositories {
		if err := config.ValidateStruct(&repo); err != nil {
			return err
		}
		if _, dup := seen[repo.Name]; dup {
			return fmt.Errorf("duplicate repository %q", repo.Name)
		}
		seen[repo.Name] = struct{}{}
	}
	return nil
}

// head is the per-repository entry of a checkpoint's backend data.
type head struct {
	Hash   string `yaml:"hash"`
	Branch string `yaml:"branch,omitempty"`
}

// Plugin manages clones below root.
type Plugin struct {
	root string
}

// New creates the "repos" backend.
func New(settings config.RepoSettings) *Plugin {
	return &Plugin{root: settings.Root}
}

var _ plugin.StatePlugin = (*Plugin)(nil)

func (p *Plugin) Name() string    { return Name }
func (p *Plugin) Version() string { return version }

func (p *Plugin) Capabilities() state.PluginCapabilities {
	return state.PluginCapabilities{
		SupportsRollback:     true,
		SupportsCheckpoints:  true,
		SupportsVerification: true,
		AtomicOperations:     false,
	}
}

// QueryCurrentState returns {"repositories": [...]} for every git clone
// directly below root. Other directories are ignored.
func (p *Plugin) QueryCurrentState(_ context.Context) (any, error) {
	repos, _, err := p.scan()
	if err != nil {
		return nil, plugin.NewObservationError(Name, err)
	}
	doc, err := state.Encode(Config{Repositories: repos})
	if err != nil {
		return nil, plugin.NewObservationError(Name, err)
	}
	return doc, nil
}

// CalculateDiff compares clones by name. A repository without a desired
// branch accepts whatever branch is checked out.
func (p *Plugin) CalculateDiff(current, desired any) (*state.StateDiff, error) {
	want, err := decodeConfig(desired)
	if err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}
	if err := want.Validate(); err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}
	have, err := decodeConfig(current)
	if err != nil {
		return nil, plugin.NewDiffComputationError(Name, fmt.Errorf("current state: %w", err))
	}

	pinned := make(map[string]bool, len(want.Repositories))
	for _, repo := range want.Repositories {
		pinned[repo.Name] = repo.Branch != ""
	}
	live := make([]Repository, 0, len(have.Repositories))
	for _, repo := range have.Repositories {
		if wantsBranch, ok := pinned[repo.Name]; ok && !wantsBranch {
			repo.Branch = ""
		}
		live = append(live, repo)
	}

	haveDocs, err := encodeRepositories(live)
	if err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}
	wantDocs, err := encodeRepositories(want.Repositories)
	if err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}
	actions, err := plugin.DiffCollection(Name, haveDocs, wantDocs, idField, plugin.CollectionOptions{Prune: want.Prune})
	if err != nil {
		return nil, plugin.NewDiffComputationError(Name, err)
	}
	return state.NewDiff(Name, current, desired, actions), nil
}

// ApplyState runs every action independently; a failed clone does not stop
// the remaining actions.
func (p *Plugin) ApplyState(ctx context.Context, diff *state.StateDiff) (*state.ApplyResult, error) {
	result := state.NewApplyResult(Name)
	if diff.IsEmpty() {
		return result, nil
	}
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return nil, plugin.NewApplyError(Name, "", fmt.Errorf("create root: %w", err))
	}

	for _, action := range diff.Actions {
		change, err := p.applyAction(ctx, action)
		if err != nil {
			result.Fail(plugin.NewApplyError(Name, action.Resource, err))
			continue
		}
		if change != "" {
			result.Record(change)
		}
	}
	return result, nil
}

// VerifyState reports whether a fresh diff against desired is empty.
func (p *Plugin) VerifyState(ctx context.Context, desired any) (bool, error) {
	current, err := p.QueryCurrentState(ctx)
	if err != nil {
		return false, plugin.NewVerificationFailure(Name, err)
	}
	diff, err := p.CalculateDiff(current, desired)
	if err != nil {
		return false, plugin.NewVerificationFailure(Name, err)
	}
	return !diff.HasChanges(), nil
}

// CreateCheckpoint records the repository list and the HEAD commit of every
// clone.
func (p *Plugin) CreateCheckpoint(_ context.Context) (*state.Checkpoint, error) {
	repos, heads, err := p.scan()
	if err != nil {
		return nil, plugin.NewCheckpointError(Name, err)
	}
	snapshot, err := state.Encode(Config{Repositories: repos})
	if err != nil {
		return nil, plugin.NewCheckpointError(Name, err)
	}
	backend, err := state.Encode(heads)
	if err != nil {
		return nil, plugin.NewCheckpointError(Name, err)
	}
	return state.NewCheckpoint(Name, snapshot, backend), nil
}

// Rollback removes clones created since the checkpoint, restores removed or
// re-pointed clones and hard-resets every clone to its recorded HEAD.
func (p *Plugin) Rollback(ctx context.Context, checkpoint *state.Checkpoint) error {
	if err := checkpoint.ValidFor(Name); err != nil {
		return plugin.NewCheckpointError(Name, err)
	}
	snapshot, err := decodeConfig(checkpoint.StateSnapshot)
	if err != nil {
		return plugin.NewCheckpointError(Name, fmt.Errorf("decode snapshot: %w", err))
	}
	heads := map[string]head{}
	if checkpoint.BackendCheckpoint != nil {
		if err := state.Decode(checkpoint.BackendCheckpoint, &heads); err != nil {
			return plugin.NewCheckpointError(Name, fmt.Errorf("decode heads: %w", err))
		}
	}

	live, _, err := p.scan()
	if err != nil {
		return plugin.NewCheckpointError(Name, err)
	}
	recorded := make(map[string]Repository, len(snapshot.Repositories))
	for _, repo := range snapshot.Repositories {
		recorded[repo.Name] = repo
	}

	var errs []error
	for _, repo := range live {
		if _, ok := recorded[repo.Name]; ok {
			continue
		}
		if err := os.RemoveAll(p.path(repo.Name)); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", repo.Name, err))
		}
	}
	for _, repo := range snapshot.Repositories {
		if err := p.restore(ctx, repo, heads[repo.Name]); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", repo.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return plugin.NewCheckpointError(Name, err)
	}
	return nil
}

func (p *Plugin) applyAction(ctx context.Context, action state.StateAction) (string, error) {
	switch action.Kind {
	case state.ActionCreate:
		var repo Repository
		if err := state.Decode(action.Config, &repo); err != nil {
			return "", err
		}
		if repo.Name == "" {
			repo.Name = action.Resource
		}
		if err := config.ValidateStruct(&repo); err != nil {
			return "", err
		}
		if err := p.clone(ctx, repo); err != nil {
			return "", err
		}
		return fmt.Sprintf("cloned %s from %s", repo.Name, repo.URL), nil

	case state.ActionModify:
		changes, ok := action.Changes.(map[string]any)
		if !ok {
			return "", fmt.Errorf("unexpected changes payload %T", action.Changes)
		}
		live, _, err := p.inspect(action.Resource)
		if err != nil {
			return "", err
		}
		base, err := state.Encode(live)
		if err != nil {
			return "", err
		}
		baseDoc, _ := base.(map[string]any)
		var target Repository
		if err := state.Decode(plugin.ApplyChanges(baseDoc, changes), &target); err != nil {
			return "", err
		}
		if err := config.ValidateStruct(&target); err != nil {
			return "", err
		}
		if target.URL != live.URL {
			if err := p.clone(ctx, target); err != nil {
				return "", err
			}
			return fmt.Sprintf("recloned %s from %s", target.Name, target.URL), nil
		}
		if target.Branch != "" && target.Branch != live.Branch {
			gitRepo, err := git.PlainOpen(p.path(target.Name))
			if err != nil {
				return "", err
			}
			if err := checkoutBranch(ctx, gitRepo, target.Branch); err != nil {
				return "", err
			}
			return fmt.Sprintf("checked out %s in %s", target.Branch, target.Name), nil
		}
		return "", nil

	case state.ActionDelete:
		path := p.path(action.Resource)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		if err := os.RemoveAll(path); err != nil {
			return "", err
		}
		return fmt.Sprintf("removed %s", action.Resource), nil

	case state.ActionNoOp:
		return "", nil

	default:
		return "", fmt.Errorf("unknown action %q", action.Kind)
	}
}

// clone replaces whatever is at the repository's directory with a fresh clone.
func (p *Plugin) clone(ctx context.Context, repo Repository) error {
	dest := p.path(repo.Name)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clear destination: %w", err)
	}
	opts := &git.CloneOptions{URL: repo.URL, RemoteName: remoteName}
	if repo.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(repo.Branch)
		opts.SingleBranch = true
	}
	if _, err := git.PlainCloneContext(ctx, dest, false, opts); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("clone %s: %w", repo.URL, err)
	}
	return nil
}

func (p *Plugin) restore(ctx context.Context, repo Repository, recorded head) error {
	live, _, err := p.inspect(repo.Name)
	if err != nil || live.URL != repo.URL {
		if err := p.clone(ctx, Repository{Name: repo.Name, URL: repo.URL}); err != nil {
			return err
		}
	}
	gitRepo, err := git.PlainOpen(p.path(repo.Name))
	if err != nil {
		return err
	}
	if recorded.Branch != "" {
		if err := checkoutBranch(ctx, gitRepo, recorded.Branch); err != nil {
			return err
		}
	}
	if recorded.Hash == "" {
		return nil
	}
	wt, err := gitRepo.Worktree()
	if err != nil {
		return err
	}
	return wt.Reset(&git.ResetOptions{Commit: plumbing.NewHash(recorded.Hash), Mode: git.HardReset})
}

// scan lists the clones below root in name order together with their HEADs.
// A missing root is an empty set.
func (p *Plugin) scan() ([]Repository, map[string]head, error) {
	heads := map[string]head{}
	entries, err := os.ReadDir(p.root)
	if errors.Is(err, os.ErrNotExist) {
		return []Repository{}, heads, nil
	}
	if err != nil {
		return nil, nil, err
	}

	repos := make([]Repository, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !plugin.ValidName(entry.Name()) {
			continue
		}
		repo, h, err := p.inspect(entry.Name())
		if errors.Is(err, git.ErrRepositoryNotExists) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("inspect %s: %w", entry.Name(), err)
		}
		repos = append(repos, repo)
		heads[repo.Name] = h
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos, heads, nil
}

func (p *Plugin) inspect(name string) (Repository, head, error) {
	gitRepo, err := git.PlainOpen(p.path(name))
	if err != nil {
		return Repository{}, head{}, err
	}
	repo := Repository{Name: name}
	if remote, err := gitRepo.Remote(remoteName); err == nil && len(remote.Config().URLs) > 0 {
		repo.URL = remote.Config().URLs[0]
	}

	var h head
	ref, err := gitRepo.Head()
	switch {
	case err == nil:
		h.Hash = ref.Hash().String()
		if ref.Name().IsBranch() {
			repo.Branch = ref.Name().Short()
			h.Branch = repo.Branch
		}
	case errors.Is(err, plumbing.ErrReferenceNotFound):
	default:
		return Repository{}, head{}, err
	}
	return repo, h, nil
}

func (p *Plugin) path(name string) string {
	return filepath.Join(p.root, name)
}

// checkoutBranch switches the worktree to branch, creating it from the
// remote-tracking branch when no local branch exists yet.
func checkoutBranch(ctx context.Context, gitRepo *git.Repository, branch string) error {
	wt, err := gitRepo.Worktree()
	if err != nil {
		return err
	}
	local := plumbing.NewBranchReferenceName(branch)
	if _, err := gitRepo.Reference(local, true); err == nil {
		return wt.Checkout(&git.CheckoutOptions{Branch: local})
	}

	remoteRef := plumbing.NewRemoteReferenceName(remoteName, branch)
	ref, err := gitRepo.Reference(remoteRef, true)
	if err != nil {
		refSpec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", local, remoteRef))
		fetchErr := gitRepo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: remoteName,
			RefSpecs:   []gitconfig.RefSpec{refSpec},
		})
		if fetchErr != nil && !errors.Is(fetchErr, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("fetch branch %s: %w", branch, fetchErr)
		}
		if ref, err = gitRepo.Reference(remoteRef, true); err != nil {
			return fmt.Errorf("branch %s not found on %s: %w", branch, remoteName, err)
		}
	}
	return wt.Checkout(&git.CheckoutOptions{Branch: local, Hash: ref.Hash(), Create: true})
}

func decodeConfig(doc any) (Config, error) {
	var cfg Config
	if doc == nil {
		return cfg, nil
	}
	if err := state.Decode(doc, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func encodeRepositories(repos []Repository) ([]any, error) {
	out := make([]any, 0, len(repos))
	for _, repo := range repos {
		doc, err := state.Encode(repo)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}
