package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"google.golang.org/grpc"

	"github.com/joshp123/gohome-besmart/internal/schema"
)

func besmartCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}
	if len(args) == 0 {
		besmartUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "rooms":
		resp := besmartCall(ctx, conn, "ListRooms", map[string]any{})
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"ROOM", "ID", "THER_ID"}}
		for _, room := range listOf(resp, "rooms") {
			rows = append(rows, []string{str(room, "name"), str(room, "id"), str(room, "ther_id")})
		}
		out.table(rows)
	case "thermostats", "list":
		resp := besmartCall(ctx, conn, "ListThermostats", map[string]any{})
		if out.json {
			out.printJSON(resp)
			return
		}
		out.table(thermostatRows(listOf(resp, "thermostats")))
	case "get", "refresh":
		if len(args) < 2 {
			fatal("besmart "+args[0], fmt.Errorf("usage: gohome-cli besmart %s <room>", args[0]))
		}
		method := "GetThermostat"
		if args[0] == "refresh" {
			method = "Refresh"
		}
		printThermostat(out, besmartCall(ctx, conn, method, map[string]any{"room": resolveRoom(ctx, conn, args[1])}))
	case "set":
		if len(args) < 4 {
			fatal("besmart set", fmt.Errorf("usage: gohome-cli besmart set <room> <setting> <value>"))
		}
		method, req, err := besmartSetRequest(resolveRoom(ctx, conn, args[1]), args[2], args[3])
		if err != nil {
			fatal("besmart set", err)
		}
		printThermostat(out, besmartCall(ctx, conn, method, req))
	case "settings":
		if len(args) < 2 {
			fatal("besmart settings", fmt.Errorf("usage: gohome-cli besmart settings <room>"))
		}
		resp := besmartCall(ctx, conn, "GetSettings", map[string]any{"room": resolveRoom(ctx, conn, args[1])})
		out.printJSON(resp["settings"])
	case "history":
		if len(args) < 2 {
			fatal("besmart history", fmt.Errorf("usage: gohome-cli besmart history <room> [limit]"))
		}
		req := map[string]any{"room": resolveRoom(ctx, conn, args[1])}
		if len(args) > 2 {
			limit, err := strconv.Atoi(args[2])
			if err != nil {
				fatal("besmart history", fmt.Errorf("invalid limit %q", args[2]))
			}
			req["limit"] = float64(limit)
		}
		resp := besmartCall(ctx, conn, "GetHistory", req)
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"TIME", "CURRENT", "COMFORT", "ECO", "MODE", "ACTION", "PRESET"}}
		for _, r := range listOf(resp, "readings") {
			rows = append(rows, []string{
				str(r, "ts"), str(r, "current_temperature"), str(r, "comfort_temperature"),
				str(r, "eco_temperature"), str(r, "hvac_mode"), str(r, "hvac_action"), str(r, "preset"),
			})
		}
		out.table(rows)
	default:
		besmartUsage()
		os.Exit(2)
	}
}

// besmartSetRequest maps a CLI setting onto the matching RPC.
func besmartSetRequest(room, setting, value string) (string, map[string]any, error) {
	req := map[string]any{"room": room}
	switch normalizeName(setting) {
	case "temperature", "temp", "comfort":
		return numberRequest("SetTemperature", req, value)
	case "temperature_low", "low", "eco":
		return numberRequest("SetTemperatureLow", req, value)
	case "temperature_frost", "frost":
		return numberRequest("SetFrostTemperature", req, value)
	case "preset", "preset_mode":
		req["preset"] = strings.ToLower(value)
		return "SetPresetMode", req, nil
	case "hvac", "hvac_mode", "mode":
		req["hvac_mode"] = strings.ToLower(value)
		return "SetHvacMode", req, nil
	default:
		return "", nil, fmt.Errorf("unknown setting %q", setting)
	}
}

func numberRequest(method string, req map[string]any, value string) (string, map[string]any, error) {
	temp, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "", nil, fmt.Errorf("invalid temperature %q", value)
	}
	req["temperature"] = temp
	return method, req, nil
}

// resolveRoom matches input against configured room names and thermostat IDs.
func resolveRoom(ctx context.Context, conn *grpc.ClientConn, input string) string {
	resp := besmartCall(ctx, conn, "ListThermostats", map[string]any{})
	var rooms []roomOption
	for _, th := range listOf(resp, "thermostats") {
		rooms = append(rooms, roomOption{Name: str(th, "room"), TherID: str(th, "ther_id")})
	}
	room, err := matchRoom(input, rooms)
	if err != nil {
		fatal("besmart", err)
	}
	return room
}

func besmartCall(ctx context.Context, conn *grpc.ClientConn, method string, req map[string]any) map[string]any {
	resp, err := schema.Invoke(ctx, conn, schema.BesmartServiceName, method, req)
	if err != nil {
		fatal("besmart "+method, err)
	}
	return resp
}

func printThermostat(out outputMode, resp map[string]any) {
	th, _ := resp["thermostat"].(map[string]any)
	if out.json || th == nil {
		out.printJSON(resp)
		return
	}
	out.table(thermostatRows([]map[string]any{th}))
}

func thermostatRows(thermostats []map[string]any) [][]string {
	rows := [][]string{{"ROOM", "THER_ID", "MODE", "ACTION", "PRESET", "CURRENT", "TARGET", "LOW", "AVAILABLE"}}
	for _, th := range thermostats {
		rows = append(rows, []string{
			str(th, "room"), str(th, "ther_id"), str(th, "hvac_mode"), str(th, "hvac_action"),
			str(th, "preset_mode"), str(th, "current_temperature"), str(th, "target_temperature"),
			str(th, "target_temperature_low"), str(th, "available"),
		})
	}
	return rows
}

func besmartUsage() {
	fmt.Println("gohome-cli besmart <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  rooms")
	fmt.Println("  thermostats")
	fmt.Println("  get <room>")
	fmt.Println("  refresh <room>")
	fmt.Println("  set <room> temperature|temperature_low|temperature_frost <value>")
	fmt.Println("  set <room> preset comfort|eco|frost")
	fmt.Println("  set <room> hvac heat|off")
	fmt.Println("  settings <room>")
	fmt.Println("  history <room> [limit]")
}
