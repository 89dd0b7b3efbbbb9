package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const systemdUnitDir = "/etc/systemd/system"

// unitSpec describes one systemd service running a zeke subcommand.
type unitSpec struct {
	Name        string
	Description string
	After       string
	Args        []string
}

type unitOptions struct {
	User       string
	WorkDir    string
	Binary     string
	EnvFile    string
	Port       int
	NoSchedule bool
}

func daemonUnits(opts unitOptions) []unitSpec {
	workerArgs := []string{"worker", "--env", opts.EnvFile}
	if opts.NoSchedule {
		workerArgs = append(workerArgs, "--no-scheduler")
	}
	return []unitSpec{
		{
			Name:        "zeke-serve.service",
			Description: "Zeke HTTP API",
			After:       "network.target postgresql.service",
			Args:        []string{"serve", "--env", opts.EnvFile, "--host", "0.0.0.0", "--port", strconv.Itoa(opts.Port)},
		},
		{
			Name:        "zeke-worker.service",
			Description: "Zeke job worker and discovery scheduler",
			After:       "network.target postgresql.service",
			Args:        workerArgs,
		},
	}
}

func unitNames(units []unitSpec) []string {
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	return names
}

func runDaemon(args []string) int {
	if len(args) == 0 {
		printDaemonUsage()
		return 2
	}

	action := strings.ToLower(strings.TrimSpace(args[0]))
	switch action {
	case "help", "-h", "--help":
		printDaemonUsage()
		return 0
	case "install":
		return runDaemonInstall(args[1:])
	case "uninstall":
		return runDaemonUninstall(args[1:])
	case "start", "stop", "restart":
		return runDaemonServiceAction(action, args[1:], true)
	case "status":
		return runDaemonServiceAction(action, args[1:], false)
	default:
		fmt.Fprintf(os.Stderr, "unknown daemon action: %s\n\n", args[0])
		printDaemonUsage()
		return 2
	}
}

func runDaemonInstall(args []string) int {
	fs := flag.NewFlagSet("daemon install", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	defaultUser := strings.TrimSpace(os.Getenv("USER"))
	if defaultUser == "" {
		defaultUser = "root"
	}
	defaultWorkDir, _ := os.Getwd()

	userName := fs.String("user", defaultUser, "Run services as this Linux user")
	port := fs.Int("port", 8090, "Port for zeke-serve")
	workDir := fs.String("workdir", defaultWorkDir, "Working directory for both services")
	envFile := fs.String("env", ".env", "Env file passed to both services, relative to --workdir")
	binary := fs.String("binary", "", "Path to the zeke binary (defaults to the running executable)")
	noSchedule := fs.Bool("no-scheduler", false, "Install the worker without the cron scheduler")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon install does not accept positional args")
		return 2
	}
	if *port < 1 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}
	if strings.TrimSpace(*userName) == "" {
		fmt.Fprintln(os.Stderr, "--user must not be empty")
		return 2
	}

	binaryPath, err := resolveBinary(*binary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve zeke binary: %v\n", err)
		return 2
	}
	absWorkDir, err := filepath.Abs(strings.TrimSpace(*workDir))
	if err != nil || !isDir(absWorkDir) {
		fmt.Fprintf(os.Stderr, "--workdir %q is not a directory\n", *workDir)
		return 2
	}
	if err := requireRoot("install"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	opts := unitOptions{
		User:       strings.TrimSpace(*userName),
		WorkDir:    absWorkDir,
		Binary:     binaryPath,
		EnvFile:    strings.TrimSpace(*envFile),
		Port:       *port,
		NoSchedule: *noSchedule,
	}
	units := daemonUnits(opts)
	for _, unit := range units {
		if err := writeUnitFile(unit.Name, renderUnitFile(unit, opts)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", unit.Name, err)
			return 1
		}
	}
	if err := runSystemctl("daemon-reload"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reload systemd units: %v\n", err)
		return 1
	}
	if err := runSystemctl(append([]string{"enable"}, unitNames(units)...)...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enable services: %v\n", err)
		return 1
	}

	fmt.Printf("Installed %s\n", strings.Join(unitNames(units), " and "))
	fmt.Println("Services are enabled on boot. Run `zeke daemon start` to start them now.")
	return 0
}

func runDaemonUninstall(args []string) int {
	fs := flag.NewFlagSet("daemon uninstall", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon uninstall does not accept positional args")
		return 2
	}
	if err := requireRoot("uninstall"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	names := unitNames(daemonUnits(unitOptions{}))
	if err := runSystemctl(append([]string{"stop"}, names...)...); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to stop one or more services: %v\n", err)
	}
	if err := runSystemctl(append([]string{"disable"}, names...)...); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to disable one or more services: %v\n", err)
	}
	for _, name := range names {
		unitPath := filepath.Join(systemdUnitDir, name)
		if err := os.Remove(unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Failed to remove %s: %v\n", unitPath, err)
			return 1
		}
	}
	if err := runSystemctl("daemon-reload"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reload systemd units: %v\n", err)
		return 1
	}

	fmt.Printf("Removed %s\n", strings.Join(names, " and "))
	return 0
}

func runDaemonServiceAction(action string, args []string, needRoot bool) int {
	fs := flag.NewFlagSet("daemon "+action, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "daemon %s does not accept positional args\n", action)
		return 2
	}
	if needRoot {
		if err := requireRoot(action); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	systemctlArgs := []string{action}
	if action == "status" {
		systemctlArgs = append(systemctlArgs, "--no-pager")
	}
	systemctlArgs = append(systemctlArgs, unitNames(daemonUnits(unitOptions{}))...)

	if err := runSystemctl(systemctlArgs...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to %s services: %v\n", action, err)
		return 1
	}
	return 0
}

func renderUnitFile(unit unitSpec, opts unitOptions) string {
	lines := []string{
		"[Unit]",
		"Description=" + unit.Description,
		"After=" + unit.After,
		"",
		"[Service]",
		"Type=simple",
		"User=" + opts.User,
		"WorkingDirectory=" + opts.WorkDir,
		"ExecStart=" + opts.Binary + " " + strings.Join(unit.Args, " "),
		"Restart=on-failure",
		"RestartSec=5",
		"KillSignal=SIGTERM",
		"TimeoutStopSec=30",
		"",
		"[Install]",
		"WantedBy=multi-user.target",
		"",
	}
	return strings.Join(lines, "\n")
}

func resolveBinary(raw string) (string, error) {
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		return filepath.Abs(trimmed)
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
		return resolved, nil
	}
	return exePath, nil
}

func requireRoot(action string) error {
	if os.Geteuid() == 0 {
		return nil
	}
	return fmt.Errorf("daemon %s requires root privileges; run with sudo: sudo zeke daemon %s", action, action)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func writeUnitFile(name, content string) error {
	return os.WriteFile(filepath.Join(systemdUnitDir, name), []byte(content), 0o644)
}

func runSystemctl(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func printDaemonUsage() {
	fmt.Fprintln(os.Stderr, "zeke daemon")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  zeke daemon <action> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Actions:")
	fmt.Fprintln(os.Stderr, "  install     Write zeke-serve and zeke-worker units and enable them on boot")
	fmt.Fprintln(os.Stderr, "  uninstall   Stop, disable and remove the units")
	fmt.Fprintln(os.Stderr, "  start       Start both services")
	fmt.Fprintln(os.Stderr, "  stop        Stop both services")
	fmt.Fprintln(os.Stderr, "  restart     Restart both services")
	fmt.Fprintln(os.Stderr, "  status      Show status for both services")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Install flags:")
	fmt.Fprintln(os.Stderr, "  --user <name>       Service user (default: $USER)")
	fmt.Fprintln(os.Stderr, "  --port <n>          API port (default: 8090)")
	fmt.Fprintln(os.Stderr, "  --workdir <path>    Working directory (default: cwd)")
	fmt.Fprintln(os.Stderr, "  --env <path>        Env file (default: .env)")
	fmt.Fprintln(os.Stderr, "  --binary <path>     zeke binary (default: this executable)")
	fmt.Fprintln(os.Stderr, "  --no-scheduler      Run the worker without cron schedules")
}
