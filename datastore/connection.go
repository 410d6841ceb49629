package datastore

import (
	"container/heap"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	priorityWrite = 999
	priorityRead  = 0
)

var (
	ErrClosed            = errors.New("datastore: closed")
	errUnsupportedDriver = errors.New("datastore: supported drivers are postgres and sqlite")
)

type item struct {
	fn       func(*sql.DB) error
	done     chan error
	priority int
	index    int
}

// dbConn runs queries on a fixed number of workers, highest priority
// first.
type dbConn struct {
	session *sql.DB
	queue   *priorityQueue
	cond    *sync.Cond
	closed  bool
	wg      sync.WaitGroup
}

func newDBConn(session *sql.DB, workers int) *dbConn {
	db := &dbConn{
		session: session,
		queue:   &priorityQueue{},
		cond:    sync.NewCond(&sync.Mutex{}),
	}
	heap.Init(db.queue)
	for i := 0; i < workers; i++ {
		db.wg.Add(1)
		go db.worker()
	}
	return db
}

func (db *dbConn) Query(priority int, fn func(*sql.DB) error) error {
	item := &item{
		fn:       fn,
		priority: priority,
		done:     make(chan error, 1),
	}

	db.cond.L.Lock()
	if db.closed {
		db.cond.L.Unlock()
		return ErrClosed
	}
	heap.Push(db.queue, item)
	db.cond.Signal()
	db.cond.L.Unlock()

	return <-item.done
}

// worker exits once the connection is closed and the queue is drained.
func (db *dbConn) worker() {
	defer db.wg.Done()
	for {
		db.cond.L.Lock()
		for db.queue.Len() == 0 && !db.closed {
			db.cond.Wait()
		}
		if db.queue.Len() == 0 {
			db.cond.L.Unlock()
			return
		}
		item := heap.Pop(db.queue).(*item)
		db.cond.L.Unlock()

		item.done <- item.fn(db.session)
	}
}

func (db *dbConn) Close() error {
	db.cond.L.Lock()
	if db.closed {
		db.cond.L.Unlock()
		return nil
	}
	db.closed = true
	db.cond.Broadcast()
	db.cond.L.Unlock()

	db.wg.Wait()
	return db.session.Close()
}

type priorityQueue []*item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	return pq[i].priority > pq[j].priority
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*item)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]
	return item
}

var schemas = map[string]string{
	"postgres": `
CREATE TABLE IF NOT EXISTS carbon_commands (
	id bigserial PRIMARY KEY,
	timestamp bigint NOT NULL,
	host text NOT NULL,
	service text NOT NULL,
	command text NOT NULL
)`,
	"sqlite": `
CREATE TABLE IF NOT EXISTS carbon_commands (
	id integer PRIMARY KEY AUTOINCREMENT,
	timestamp integer NOT NULL,
	host text NOT NULL,
	service text NOT NULL,
	command text NOT NULL
)`,
}

// Open connects to a postgres or sqlite database and creates the command
// table when it does not exist yet.
func Open(driver, dsn string) (*Store, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, errUnsupportedDriver
	}

	session, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	workers := 4
	if driver == "sqlite" {
		session.SetMaxOpenConns(1)
		workers = 1
	}
	if err := session.Ping(); err != nil {
		session.Close()
		return nil, fmt.Errorf("datastore: ping %s: %w", driver, err)
	}
	if _, err := session.Exec(schema); err != nil {
		session.Close()
		return nil, fmt.Errorf("datastore: create table: %w", err)
	}
	if _, err := session.Exec(`CREATE INDEX IF NOT EXISTS carbon_commands_host_idx ON carbon_commands (host, id)`); err != nil {
		log.Warnf("datastore: create index: %s", err)
	}
	log.Infof("datastore: archiving commands with %s", driver)

	return &Store{
		db:     newDBConn(session, workers),
		driver: driver,
	}, nil
}
