package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/mcache/cmd/util"
	"github.com/ValentinKolb/mcache/rpc/client"
	"github.com/spf13/cobra"
)

var (
	lockClient    *client.Client
	lockExpiry    uint32
	lockHoldFor   uint32
	lockAcquireMs int

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:   "lock",
		Short: "Perform advisory lock operations",
		Long: util.WrapString(`Advisory locks are cache items stored with add under the "lock:" prefix. ` +
			`Whoever adds the item holds the lock until it is deleted or its expiry passes.`),
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Try once to acquire a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key]",
		Short: "Release a lock",
		Long:  "Release a lock by deleting its item. Locks carry no owner check, any client may release them.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRelease,
	}

	// statusCmd represents the status command
	statusCmd = &cobra.Command{
		Use:   "status [key]",
		Short: "Report whether a lock is held",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	// holdCmd represents the hold command
	holdCmd = &cobra.Command{
		Use:   "hold [key]",
		Short: "Wait for a lock, hold it for a while and release it",
		Args:  cobra.ExactArgs(1),
		RunE:  runHold,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)
	LockCommands.AddCommand(statusCmd)
	LockCommands.AddCommand(holdCmd)

	util.SetupClientFlags(LockCommands)

	for _, cmd := range []*cobra.Command{acquireCmd, holdCmd} {
		cmd.Flags().Uint32Var(&lockExpiry, "expiry", client.DefaultLockExpiry, "Lock expiry in seconds")
	}
	holdCmd.Flags().Uint32Var(&lockHoldFor, "hold", 1, "Seconds to hold the lock before releasing it")
	holdCmd.Flags().IntVar(&lockAcquireMs, "wait", 5000, "Milliseconds to wait for the lock")
}

// setupLockClient initializes the lock client
func setupLockClient(cmd *cobra.Command, _ []string) (err error) {
	lockClient, err = util.NewClient(cmd)
	return err
}

func closeLockClient(*cobra.Command, []string) error {
	if lockClient == nil {
		return nil
	}
	return lockClient.Close()
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	ctx, cancel := util.CommandContext(cmd, 1)
	defer cancel()

	acquired, err := lockClient.Lock(ctx, args[0], lockExpiry)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	fmt.Printf("acquired=%t\n", acquired)
	return nil
}

// runRelease handles the release lock command
func runRelease(cmd *cobra.Command, args []string) error {
	ctx, cancel := util.CommandContext(cmd, 1)
	defer cancel()

	released, err := lockClient.Unlock(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}

	fmt.Printf("released=%t\n", released)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := util.CommandContext(cmd, 1)
	defer cancel()

	locked, err := lockClient.Locked(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("locked=%t\n", locked)
	return nil
}

func runHold(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(lockAcquireMs)*time.Millisecond)
	defer cancel()

	return lockClient.WithLock(ctx, args[0], lockExpiry, func(context.Context) error {
		fmt.Printf("acquired=true, holding for %ds\n", lockHoldFor)
		time.Sleep(time.Duration(lockHoldFor) * time.Second)
		return nil
	})
}
