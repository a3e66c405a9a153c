package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/service"
	"golang.org/x/term"
)

// issue-token signs an access token the way the portal's login does, for
// local testing of the student and teacher endpoints.
func main() {
	var (
		userID int
		role   string
	)
	flag.IntVar(&userID, "user", 0, "User ID to put in the token")
	flag.StringVar(&role, "role", string(model.RoleStudent), "Role: registrar, teacher or student")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	if _, ok := os.LookupEnv("JWT_SECRET"); !ok {
		fmt.Fprint(os.Stderr, "Enter JWT secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error reading secret")
			os.Exit(1)
		}
		if len(secret) == 0 {
			fmt.Fprintln(os.Stderr, "Error: secret is required")
			os.Exit(1)
		}
		cfg.JWTSecret = string(secret)
	}

	// ─── CLI Input ─────────────────────────────────────────────────────
	if userID <= 0 {
		reader := bufio.NewReader(os.Stdin)
		fmt.Fprint(os.Stderr, "Enter User ID: ")
		line, _ := reader.ReadString('\n')
		id, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || id <= 0 {
			fmt.Fprintln(os.Stderr, "Error: User ID must be a positive integer")
			os.Exit(1)
		}
		userID = id
	}

	r, err := model.ParseRole(role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ─── Sign ──────────────────────────────────────────────────────────
	token, err := service.NewAuthService(cfg).GenerateToken(userID, r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
