package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

func main() {
	profile := flag.String("profile", "default", "screening profile to run")
	pages := flag.Int("pages", 0, "gateway pages to fetch (0 = profile default)")
	baseURL := flag.String("base-url", "http://localhost:8081", "server base URL")
	flag.Parse()

	adminSecret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	if adminSecret == "" {
		fmt.Println("Missing ADMIN_SECRET environment variable")
		os.Exit(1)
	}

	params := url.Values{"profile": {*profile}}
	if *pages > 0 {
		params.Set("pages", strconv.Itoa(*pages))
	}

	endpoint := strings.TrimRight(*baseURL, "/") + "/api/v1/admin/screen?" + params.Encode()
	req, err := http.NewRequest("POST", endpoint, nil)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("X-Admin-Secret", adminSecret)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Response Status: %s\n", resp.Status)
	fmt.Println(string(body))
	if resp.StatusCode != http.StatusAccepted {
		os.Exit(1)
	}
}
