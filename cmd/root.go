package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"octobranch/internal/app"
	"octobranch/internal/config"
	"octobranch/pkg/logging"
)

// apiKeyEnv is read when --octopusApiKey is not given, so CI secrets need not
// appear on the command line.
const apiKeyEnv = "OCTOPUS_API_KEY"

var (
	flagAction            string
	flagServerURL         string
	flagAPIKey            string
	flagSpace             string
	flagProject           string
	flagBranch            string
	flagDeploymentStep    string
	flagDeploymentPackage string
	flagTargetName        string
	flagTargetRole        string
	flagTargetEnvironment string

	flagConfigPath string
	flagDebug      bool
	flagLogFormat  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "octobranch",
	Short: "Create and tear down Octopus Deploy resources for feature branches",
	Long: `octobranch gives every feature branch its own Octopus Deploy environment,
lifecycle and project channel, and attaches existing deployment targets to it.

  octobranch --action create ...   provisions the branch (safe to run repeatedly)
  octobranch --action delete ...   cancels running deployments and removes
                                   everything create added

Protected branches (main and master by default) are never touched.
Progress is logged to stderr.

Configuration:
  Settings are layered from ~/.config/octobranch/config.yaml and
  ./.octobranch/config.yaml, or read from the directory given by --config.`,
	Args: cobra.NoArgs,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. failed API calls)
	SilenceUsage: true,
	RunE:         runRoot,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "octobranch version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Cobra prints the error, we just exit non-zero
		stop()
		os.Exit(1)
	}
}

// runFromFlags builds the run inputs from the parsed flags.
func runFromFlags() (config.Run, error) {
	action, err := config.ParseAction(flagAction)
	if err != nil {
		return config.Run{}, err
	}
	apiKey := flagAPIKey
	if config.IsBlank(apiKey) {
		apiKey = os.Getenv(apiKeyEnv)
	}
	return config.Run{
		Action:            action,
		ServerURL:         flagServerURL,
		APIKey:            apiKey,
		Space:             flagSpace,
		Project:           flagProject,
		Branch:            flagBranch,
		DeploymentStep:    flagDeploymentStep,
		DeploymentPackage: flagDeploymentPackage,
		TargetName:        flagTargetName,
		TargetRole:        flagTargetRole,
		TargetEnvironment: flagTargetEnvironment,
	}, nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	run, err := runFromFlags()
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(flagLogFormat)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(app.NewConfig(run, flagDebug, format, flagConfigPath))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return application.Run(commandContext(cmd))
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	flags := rootCmd.Flags()
	flags.StringVar(&flagAction, "action", "", "create or delete")
	flags.StringVar(&flagServerURL, "octopusUrl", "", "The Octopus server URL")
	flags.StringVar(&flagAPIKey, "octopusApiKey", "", "The Octopus API key (defaults to $"+apiKeyEnv+")")
	flags.StringVar(&flagSpace, "octopusSpace", "", "The Octopus space name or id")
	flags.StringVar(&flagProject, "octopusProject", "", "The Octopus project")
	flags.StringVar(&flagBranch, "branchName", "", "The feature branch; names the environment, lifecycle and channel")
	flags.StringVar(&flagDeploymentStep, "deploymentStepName", "", "The step whose package versions the channel rule matches")
	flags.StringVar(&flagDeploymentPackage, "deploymentPackageName", "", "The package of the deployment step the channel rule matches")
	flags.StringVar(&flagTargetName, "targetName", "", "A deployment target to add to the branch environment")
	flags.StringVar(&flagTargetRole, "targetRole", "", "A role whose targets are added to the branch environment")
	flags.StringVar(&flagTargetEnvironment, "targetEnvironment", "", "Only add role targets already in this environment")

	flags.StringVar(&flagConfigPath, "config", "", "Directory containing config.yaml (skips the layered lookup)")
	flags.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	flags.StringVar(&flagLogFormat, "log-format", string(logging.FormatAuto), "Log format: auto, text or json")

	for _, name := range []string{"action", "octopusUrl", "octopusSpace", "octopusProject", "branchName"} {
		_ = rootCmd.MarkFlagRequired(name)
	}
}
