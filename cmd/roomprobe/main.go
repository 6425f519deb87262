package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/Cheese-Arena/internal/arenaclient"
	"github.com/park285/Cheese-Arena/pkg/arenadto"
)

func main() {
	baseURL := flag.String("url", envOr("ARENA_BASE_URL", "http://localhost:8081"), "arena server base URL")
	username := flag.String("user", os.Getenv("ARENA_USER"), "username")
	password := flag.String("password", os.Getenv("ARENA_PASSWORD"), "password")
	code := flag.String("code", "", "room code to join; empty creates a new room")
	register := flag.Bool("register", false, "register the user before logging in")
	window := flag.Duration("window", 10*time.Second, "how long to print frames")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("-user and -password (or ARENA_USER / ARENA_PASSWORD) are required")
	}

	client := arenaclient.NewClient(*baseURL, arenaclient.WithTimeout(8*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if *register {
		if _, err := client.Register(ctx, *username, *password); err != nil {
			log.Printf("register error: %v", err)
		}
	}
	auth, err := client.Login(ctx, *username, *password)
	if err != nil {
		log.Fatalf("login error: %v", err)
	}
	log.Printf("logged in: user=%s id=%d rating=%d", auth.Username, auth.UserID, auth.User.Rating)

	room := strings.ToUpper(strings.TrimSpace(*code))
	if room == "" {
		snap, err := client.CreateGame(ctx, auth.Token)
		if err != nil {
			log.Fatalf("create error: %v", err)
		}
		room = snap.GameCode
		log.Printf("created room %s", room)
	} else {
		joined, err := client.JoinGame(ctx, auth.Token, room)
		if err != nil {
			log.Printf("join error (continuing as observer): %v", err)
		} else {
			log.Printf("joined room %s as %s", room, joined.YourSide)
		}
	}

	ws := arenaclient.NewWebSocket(client.RoomURL(room, auth.Token))
	ws.OnMessage(func(f *arenadto.Frame) {
		side := ""
		if f.YourSide != "" {
			side = " yourSide=" + f.YourSide
		}
		fmt.Printf("WS %s%s %s\n", f.Type, side, f.Data)
	})
	if err := ws.Connect(ctx); err != nil {
		log.Fatalf("ws connect error: %v", err)
	}

	t := time.NewTimer(*window)
	select {
	case <-t.C:
	case <-ws.Done():
		log.Printf("server closed the socket: status=%v", ws.CloseStatus())
	}

	cctx, ccancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer ccancel()
	_ = ws.Close(cctx)
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
