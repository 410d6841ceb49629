package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"carbonreceiver/core"
)

var (
	commandHeaderRe     = regexp.MustCompile(`^\[(\d+)\] PROCESS_SERVICE_OUTPUT;([^;]*);([^;]*);`)
	insertBatchSize     = 200
	errMalformedCommand = errors.New("datastore: command does not start with [timestamp] PROCESS_SERVICE_OUTPUT;host;service;")
	errInvalidLimit     = errors.New("datastore: n must be positive")
)

// Store archives external commands in the carbon_commands table.
type Store struct {
	db     *dbConn
	driver string
}

func parseCommand(cmd string) (*core.Command, error) {
	m := commandHeaderRe.FindStringSubmatch(cmd)
	if m == nil {
		return nil, errMalformedCommand
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, err
	}
	return &core.Command{
		Timestamp: ts,
		Host:      m[2],
		Service:   m[3],
		Command:   cmd,
	}, nil
}

func (s *Store) placeholder(n int) string {
	if s.driver == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (s *Store) generateInsertStringsAndValues(commands []*core.Command) (string, []interface{}) {
	valuesStrBuilder := &strings.Builder{}
	values := make([]interface{}, 0, 4*len(commands))
	for i, cmd := range commands {
		if i > 0 {
			valuesStrBuilder.WriteString(",")
		}
		n := len(values)
		fmt.Fprintf(valuesStrBuilder, "(%s,%s,%s,%s)",
			s.placeholder(n+1), s.placeholder(n+2), s.placeholder(n+3), s.placeholder(n+4))
		values = append(values, cmd.Timestamp, cmd.Host, cmd.Service, cmd.Command)
	}
	return valuesStrBuilder.String(), values
}

// Send archives a batch of commands. A malformed command rejects the whole
// batch.
func (s *Store) Send(ctx context.Context, commands []string) error {
	parsed := make([]*core.Command, 0, len(commands))
	for _, cmd := range commands {
		c, err := parseCommand(cmd)
		if err != nil {
			return err
		}
		parsed = append(parsed, c)
	}

	for i := 0; i < len(parsed); i += insertBatchSize {
		batch := parsed[i:min(i+insertBatchSize, len(parsed))]
		valuesStr, values := s.generateInsertStringsAndValues(batch)
		err := s.db.Query(priorityWrite, func(session *sql.DB) error {
			queryStr := "INSERT INTO carbon_commands (timestamp,host,service,command) VALUES " + valuesStr
			_, err := session.ExecContext(ctx, queryStr, values...)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Recent returns the last n archived commands, newest first. An empty host
// matches every host.
func (s *Store) Recent(ctx context.Context, host string, n int) ([]*core.Command, error) {
	if n <= 0 {
		return nil, errInvalidLimit
	}

	var (
		whereStr  string
		queryVals []interface{}
	)
	if host != "" {
		queryVals = append(queryVals, host)
		whereStr = " WHERE host = " + s.placeholder(len(queryVals))
	}
	queryVals = append(queryVals, n)
	queryStr := fmt.Sprintf(`SELECT id, timestamp, host, service, command FROM carbon_commands%s ORDER BY id DESC LIMIT %s`,
		whereStr, s.placeholder(len(queryVals)))

	commands := []*core.Command{}
	err := s.db.Query(priorityRead, func(session *sql.DB) error {
		scanner, err := session.QueryContext(ctx, queryStr, queryVals...)
		if err != nil {
			return err
		}
		defer scanner.Close()
		for scanner.Next() {
			cmd := &core.Command{}
			if err := scanner.Scan(&cmd.ID, &cmd.Timestamp, &cmd.Host, &cmd.Service, &cmd.Command); err != nil {
				return err
			}
			commands = append(commands, cmd)
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, err
	}
	return commands, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
