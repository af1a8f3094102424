package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestSetVersion(t *testing.T) {
	// Test setting version
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, rootCmd.Version)
	}
}

func TestRootCommand(t *testing.T) {
	// Test root command properties
	if rootCmd.Use != "octobranch" {
		t.Errorf("Expected Use to be 'octobranch', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if rootCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}

	if rootCmd.RunE == nil {
		t.Error("Expected RunE function to be set")
	}
}

func TestRootFlags(t *testing.T) {
	required := []string{"action", "octopusUrl", "octopusSpace", "octopusProject", "branchName"}
	optional := []string{"octopusApiKey", "deploymentStepName", "deploymentPackageName",
		"targetName", "targetRole", "targetEnvironment", "config", "debug", "log-format"}

	for _, name := range required {
		f := rootCmd.Flags().Lookup(name)
		if f == nil {
			t.Errorf("Expected flag --%s to be registered", name)
			continue
		}
		if _, ok := f.Annotations[cobra.BashCompOneRequiredFlag]; !ok {
			t.Errorf("Expected flag --%s to be required", name)
		}
	}
	for _, name := range optional {
		f := rootCmd.Flags().Lookup(name)
		if f == nil {
			t.Errorf("Expected flag --%s to be registered", name)
			continue
		}
		if _, ok := f.Annotations[cobra.BashCompOneRequiredFlag]; ok {
			t.Errorf("Expected flag --%s to be optional", name)
		}
	}
}

func resetFlags() {
	flagAction, flagServerURL, flagAPIKey, flagSpace, flagProject, flagBranch = "", "", "", "", "", ""
	flagDeploymentStep, flagDeploymentPackage = "", ""
	flagTargetName, flagTargetRole, flagTargetEnvironment = "", "", ""
	flagConfigPath, flagLogFormat, flagDebug = "", "auto", false
}

func TestRunFromFlags(t *testing.T) {
	defer resetFlags()
	resetFlags()

	flagAction = "Create"
	flagServerURL = "https://octopus.example.com"
	flagSpace = "Default"
	flagProject = "Web"
	flagBranch = "feature/foo"
	flagTargetRole = "db"
	t.Setenv(apiKeyEnv, "API-FROM-ENV")

	run, err := runFromFlags()
	if err != nil {
		t.Fatalf("runFromFlags failed: %v", err)
	}
	if run.Action != "create" {
		t.Errorf("Expected action create, got %s", run.Action)
	}
	if run.APIKey != "API-FROM-ENV" {
		t.Errorf("Expected API key from environment, got %q", run.APIKey)
	}
	if run.TargetRole != "db" {
		t.Errorf("Expected target role db, got %q", run.TargetRole)
	}

	flagAPIKey = "API-FROM-FLAG"
	run, err = runFromFlags()
	if err != nil {
		t.Fatalf("runFromFlags failed: %v", err)
	}
	if run.APIKey != "API-FROM-FLAG" {
		t.Errorf("Expected the flag to win over the environment, got %q", run.APIKey)
	}
}

func TestRunFromFlagsUnknownAction(t *testing.T) {
	defer resetFlags()
	resetFlags()

	flagAction = "promote"
	if _, err := runFromFlags(); err == nil {
		t.Error("Expected error for unknown action")
	}
}

func TestRunRootInvalidLogFormat(t *testing.T) {
	defer resetFlags()
	resetFlags()

	flagAction = "create"
	flagLogFormat = "xml"
	err := runRoot(rootCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown log format") {
		t.Errorf("Expected log format error, got %v", err)
	}
}

func TestVersionTemplate(t *testing.T) {
	// Create a new command to test version template
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}

	// Set the same version template as in Execute()
	testCmd.SetVersionTemplate(`{{printf "octobranch version %s\n" .Version}}`)

	// Capture output
	var buf bytes.Buffer
	testCmd.SetOut(&buf)

	// Execute version command
	testCmd.SetArgs([]string{"--version"})
	err := testCmd.Execute()
	if err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	output := buf.String()
	expected := "octobranch version 1.0.0\n"
	if output != expected {
		t.Errorf("Expected version output %q, got %q", expected, output)
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("2.0.0")
	versionCmd := newVersionCmd()

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)

	if buf.String() != "octobranch version 2.0.0\n" {
		t.Errorf("Unexpected version output %q", buf.String())
	}
}

func TestSubcommands(t *testing.T) {
	// Test that subcommands are added
	commands := rootCmd.Commands()

	expectedCommands := []string{"version", "self-update"}
	foundCommands := make(map[string]bool)

	for _, cmd := range commands {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestRootCommandHelp(t *testing.T) {
	// Test that help can be generated without error
	var buf bytes.Buffer

	// Create a new command to avoid affecting the global one
	testRootCmd := &cobra.Command{
		Use:          "octobranch",
		Short:        rootCmd.Short,
		Long:         rootCmd.Long,
		SilenceUsage: true,
	}

	testRootCmd.SetOut(&buf)
	testRootCmd.SetArgs([]string{"--help"})

	err := testRootCmd.Execute()
	if err != nil {
		t.Fatalf("Error executing help command: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "octobranch") {
		t.Errorf("Help output should contain 'octobranch'. Got: %q", output)
	}

	if !strings.Contains(output, "Protected branches") {
		t.Errorf("Help output should contain the long description. Got: %q", output)
	}
}
