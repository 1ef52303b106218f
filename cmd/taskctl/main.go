// Command taskctl is an operator CLI for the task lifecycle engine's HTTP
// API, with subcommands: list, submit, cancel, delete, users. It talks to
// a running taskserver over plain HTTP; there's no direct store access.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		cmdList(os.Args[2:])
	case "submit":
		cmdSubmit(os.Args[2:])
	case "cancel":
		cmdCancel(os.Args[2:])
	case "delete":
		cmdDelete(os.Args[2:])
	case "users":
		cmdUsers(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: taskctl <list|submit|cancel|delete|users> [flags]")
}

func commonFlags(fs *flag.FlagSet) (apiBase *string, token *string) {
	apiBase = fs.String("api-base", os.Getenv("TASKCTL_API_BASE"), "base API URL, e.g. http://localhost:8080")
	token = fs.String("token", os.Getenv("TASKCTL_TOKEN"), "operator bearer token")
	return
}

func client(apiBase, token string, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimRight(apiBase, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c := &http.Client{Timeout: defaultTimeout}
	return c.Do(req)
}

func echo(resp *http.Response, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "request error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	fmt.Println(string(data))
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	apiBase, token := commonFlags(fs)
	service := fs.String("service", "", "service name")
	user := fs.String("user", "", "user identifier")
	fs.Parse(args)

	path := "/tasks"
	q := make([]string, 0, 2)
	if *service != "" {
		q = append(q, "service="+*service)
	}
	if *user != "" {
		q = append(q, "user_id="+*user)
	}
	if len(q) > 0 {
		path += "?" + strings.Join(q, "&")
	}
	echo(client(*apiBase, *token, http.MethodGet, path, nil))
}

func cmdSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	apiBase, token := commonFlags(fs)
	service := fs.String("service", "", "service name")
	user := fs.String("user", "", "user identifier")
	var params paramList
	fs.Var(&params, "param", "task parameter key=value, repeatable")
	fs.Parse(args)

	body := map[string]interface{}{
		"service":    *service,
		"user_id":    *user,
		"parameters": params.toMap(),
	}
	echo(client(*apiBase, *token, http.MethodPost, "/tasks", body))
}

func cmdCancel(args []string) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	apiBase, token := commonFlags(fs)
	taskID := fs.String("task-id", "", "task identifier")
	service := fs.String("service", "", "service name")
	user := fs.String("user", "", "user identifier")
	fs.Parse(args)

	path := fmt.Sprintf("/tasks/%s/cancel?service=%s&user_id=%s", *taskID, *service, *user)
	echo(client(*apiBase, *token, http.MethodPost, path, nil))
}

func cmdDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	apiBase, token := commonFlags(fs)
	taskID := fs.String("task-id", "", "task identifier")
	service := fs.String("service", "", "service name")
	user := fs.String("user", "", "user identifier")
	fs.Parse(args)

	path := fmt.Sprintf("/tasks/%s?service=%s&user_id=%s", *taskID, *service, *user)
	echo(client(*apiBase, *token, http.MethodDelete, path, nil))
}

func cmdUsers(args []string) {
	fs := flag.NewFlagSet("users", flag.ExitOnError)
	apiBase, token := commonFlags(fs)
	service := fs.String("service", "", "service name")
	fs.Parse(args)

	path := "/tasks/users?service=" + *service
	echo(client(*apiBase, *token, http.MethodGet, path, nil))
}

// paramList collects repeated --param key=value flags into a map.
type paramList []string

func (p *paramList) String() string { return strings.Join(*p, ",") }

func (p *paramList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func (p paramList) toMap() map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for _, item := range p {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
