package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joshp123/rointe-golang/rointe"
)

func main() {
	jsonOutput := flag.Bool("json", false, "print JSON instead of tables")
	backend := flag.String("backend", envOrDefault("ROINTE_BACKEND", "auto"), "backend: auto, rointe or nexa")
	installation := flag.String("installation", os.Getenv("ROINTE_INSTALLATION"), "installation id (needed for nexa device commands)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	username := os.Getenv("ROINTE_USERNAME")
	password := os.Getenv("ROINTE_PASSWORD")
	if username == "" || password == "" {
		fatal("auth", fmt.Errorf("ROINTE_USERNAME and ROINTE_PASSWORD must be set"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := rointe.NewClient(username, password, rointe.Backend(*backend))
	if err := client.Login(ctx); err != nil {
		fatal("login", err)
	}

	out := outputMode{json: *jsonOutput}
	switch args[0] {
	case "installations":
		installationsCmd(ctx, client, out)
	case "devices":
		devicesCmd(ctx, client, *installation, args[1:], out)
	case "device":
		deviceCmd(ctx, client, *installation, args[1:], out)
	case "energy":
		energyCmd(ctx, client, *installation, args[1:], out)
	case "firmware":
		firmwareCmd(ctx, client, out)
	case "set-temp":
		setTempCmd(ctx, client, *installation, args[1:], out)
	case "set-preset":
		setPresetCmd(ctx, client, *installation, args[1:], out)
	case "set-mode":
		setModeCmd(ctx, client, *installation, args[1:], out)
	default:
		usage()
		os.Exit(2)
	}
}

func installationsCmd(ctx context.Context, client *rointe.Client, out outputMode) {
	installations, err := client.Installations(ctx)
	if err != nil {
		fatal("list installations", err)
	}
	if out.json {
		out.printJSON(installations)
		return
	}
	rows := [][]string{{"ID", "LOCATION"}}
	for _, id := range sortedKeys(installations) {
		rows = append(rows, []string{id, installations[id]})
	}
	out.table(rows)
}

func devicesCmd(ctx context.Context, client *rointe.Client, installation string, args []string, out outputMode) {
	installation = resolveInstallation(ctx, client, installation, args)

	deviceIDs, err := client.InstallationDevices(ctx, installation)
	if err != nil {
		fatal("list devices", err)
	}
	sort.Strings(deviceIDs)

	if out.json {
		out.printJSON(deviceIDs)
		return
	}
	rows := [][]string{{"DEVICE", "NAME", "TYPE", "TEMP", "POWER"}}
	for _, id := range deviceIDs {
		payload, err := client.DevicePayload(ctx, id)
		if err != nil {
			rows = append(rows, []string{id, "(unreachable)", "", "", ""})
			continue
		}
		d := rointe.ParseDevice(id, payload, nil, "")
		rows = append(rows, []string{
			id, d.Name, d.Type,
			fmt.Sprintf("%.1f", d.TempProbe),
			onOff(d.Power),
		})
	}
	out.table(rows)
}

func deviceCmd(ctx context.Context, client *rointe.Client, installation string, args []string, out outputMode) {
	d := fetchDevice(ctx, client, installation, args)
	if out.json {
		out.printJSON(d)
		return
	}
	now := time.Now()
	rows := [][]string{
		{"id", d.ID},
		{"name", d.Name},
		{"type", d.Type},
		{"product", d.Product()},
		{"serial", d.SerialNumber},
		{"firmware", d.FirmwareVersion},
		{"power", onOff(d.Power)},
		{"mode", d.Mode},
		{"preset", d.Preset},
		{"temp", fmt.Sprintf("%.1f", d.Temp)},
		{"probe", fmt.Sprintf("%.1f", d.TempProbe)},
		{"target", fmt.Sprintf("%.1f", d.EffectiveTargetTemp(now))},
		{"action", d.HeatingAction(now).String()},
		{"comfort/eco/ice", fmt.Sprintf("%.1f/%.1f/%.1f", d.ComfortTemp, d.EcoTemp, d.IceTemp)},
		{"wifi", fmt.Sprintf("%d dBm (%s)", d.WifiSignal, d.WifiSSID)},
	}
	out.table(rows)
}

func energyCmd(ctx context.Context, client *rointe.Client, installation string, args []string, out outputMode) {
	if len(args) < 1 {
		fatal("energy", fmt.Errorf("usage: rointe-cli energy <device>"))
	}
	warmDeviceCache(ctx, client, installation)

	energy, err := client.LatestEnergyStats(ctx, args[0], installation)
	if err != nil {
		fatal("energy", err)
	}
	if out.json {
		out.printJSON(energy)
		return
	}
	out.table([][]string{
		{"window", fmt.Sprintf("%s .. %s", energy.WindowStart.Format(time.RFC3339), energy.WindowEnd.Format(time.RFC3339))},
		{"kwh", fmt.Sprintf("%.3f", energy.KWh)},
		{"effective_power", fmt.Sprintf("%.0f W", energy.EffectivePower)},
	})
}

func firmwareCmd(ctx context.Context, client *rointe.Client, out outputMode) {
	fw, err := client.LatestFirmware(ctx)
	if err != nil {
		fatal("firmware", err)
	}
	if out.json {
		out.printJSON(fw)
		return
	}
	rows := [][]string{{"PRODUCT", "LATEST"}}
	for _, product := range sortedKeys(fw) {
		rows = append(rows, []string{product, fw[product]})
	}
	out.table(rows)
}

func setTempCmd(ctx context.Context, client *rointe.Client, installation string, args []string, out outputMode) {
	if len(args) < 2 {
		fatal("set-temp", fmt.Errorf("usage: rointe-cli set-temp <device> <temp>"))
	}
	temp, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fatal("set-temp", fmt.Errorf("invalid temperature %q", args[1]))
	}

	d := fetchDevice(ctx, client, installation, args[:1])
	if err := client.SetTemperature(ctx, d, temp); err != nil {
		fatal("set-temp", err)
	}
	out.ok(map[string]any{"device": d.ID, "temp": temp})
}

func setPresetCmd(ctx context.Context, client *rointe.Client, installation string, args []string, out outputMode) {
	if len(args) < 2 {
		fatal("set-preset", fmt.Errorf("usage: rointe-cli set-preset <device> <comfort|eco|ice>"))
	}
	d := fetchDevice(ctx, client, installation, args[:1])
	if err := client.SetPreset(ctx, d, args[1]); err != nil {
		fatal("set-preset", err)
	}
	out.ok(map[string]any{"device": d.ID, "preset": args[1]})
}

func setModeCmd(ctx context.Context, client *rointe.Client, installation string, args []string, out outputMode) {
	if len(args) < 2 {
		fatal("set-mode", fmt.Errorf("usage: rointe-cli set-mode <device> <off|heat|auto>"))
	}
	d := fetchDevice(ctx, client, installation, args[:1])
	if err := client.SetHVACMode(ctx, d, rointe.HVACMode(args[1])); err != nil {
		fatal("set-mode", err)
	}
	out.ok(map[string]any{"device": d.ID, "mode": args[1]})
}

// fetchDevice reads and parses one device, priming the discovery cache first
// so Nexa serial lookups work.
func fetchDevice(ctx context.Context, client *rointe.Client, installation string, args []string) *rointe.Device {
	if len(args) < 1 {
		fatal("device", fmt.Errorf("missing device id"))
	}
	warmDeviceCache(ctx, client, installation)

	payload, err := client.DevicePayload(ctx, args[0])
	if err != nil {
		fatal("fetch device", err)
	}
	return rointe.ParseDevice(args[0], payload, nil, "")
}

func warmDeviceCache(ctx context.Context, client *rointe.Client, installation string) {
	if client.Backend() != rointe.BackendNexa {
		return
	}
	if installation == "" {
		fatal("device", fmt.Errorf("-installation is required on the nexa backend"))
	}
	if _, err := client.InstallationDevices(ctx, installation); err != nil {
		fatal("discover devices", err)
	}
}

func resolveInstallation(ctx context.Context, client *rointe.Client, installation string, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if installation != "" {
		return installation
	}
	installations, err := client.Installations(ctx)
	if err != nil {
		fatal("list installations", err)
	}
	for id := range installations {
		return id
	}
	fatal("devices", fmt.Errorf("no installations on account"))
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func usage() {
	fmt.Println("rointe-cli [-json] [-backend auto|rointe|nexa] [-installation id] <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  installations")
	fmt.Println("  devices [installation]")
	fmt.Println("  device <device>")
	fmt.Println("  energy <device>")
	fmt.Println("  firmware")
	fmt.Println("  set-temp <device> <temp>")
	fmt.Println("  set-preset <device> <comfort|eco|ice>")
	fmt.Println("  set-mode <device> <off|heat|auto>")
}

func fatal(op string, err error) {
	fmt.Fprintf(os.Stderr, "rointe-cli: %s: %v\n", op, err)
	os.Exit(1)
}
