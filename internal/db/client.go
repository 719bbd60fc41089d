package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Config holds database configuration.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Client manages the connection pool plus a small async queue for
// non-critical audit writes. Query, iteration, and result writes go through
// Store synchronously because the loop reads its own writes.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger

	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

// WriteRequest is one queued async write.
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeToolExecution WriteType = iota
)

// String returns the string representation of WriteType.
func (wt WriteType) String() string {
	switch wt {
	case WriteTypeToolExecution:
		return "ToolExecution"
	default:
		return "Unknown"
	}
}

// NewClient opens the pool, verifies connectivity, and starts the async
// write workers.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	database, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	database.SetMaxOpenConns(config.MaxConnections)
	database.SetMaxIdleConns(config.IdleConnections)
	database.SetConnMaxLifetime(config.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	client := &Client{
		db:         database,
		logger:     logger,
		writeQueue: make(chan WriteRequest, 1000),
		workers:    4,
		stopCh:     make(chan struct{}),
	}
	client.startWorkers()

	logger.Info("database client initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
		zap.Int("workers", client.workers),
	)
	return client, nil
}

// NewClientFromDB wraps an existing pool, skipping the DSN and ping steps.
func NewClientFromDB(database *sqlx.DB, logger *zap.Logger) *Client {
	client := &Client{
		db:         database,
		logger:     logger,
		writeQueue: make(chan WriteRequest, 1000),
		workers:    1,
		stopCh:     make(chan struct{}),
	}
	client.startWorkers()
	return client
}

// QueueWrite enqueues an async write. Returns an error when the queue is full
// rather than blocking the caller.
func (c *Client) QueueWrite(t WriteType, data interface{}, callback func(error)) error {
	select {
	case c.writeQueue <- WriteRequest{Type: t, Data: data, Callback: callback}:
		return nil
	default:
		return fmt.Errorf("write queue full, dropping %s write", t)
	}
}

func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	c.logger.Debug("write worker started", zap.Int("worker_id", id))
	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Debug("write worker stopped", zap.Int("worker_id", id))
			return
		case req := <-c.writeQueue:
			c.processWrite(req)
		}
	}
}

func (c *Client) drainQueue() {
	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		default:
			return
		}
	}
}

func (c *Client) processWrite(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch req.Type {
	case WriteTypeToolExecution:
		row, ok := req.Data.(*ToolExecutionRow)
		if !ok {
			err = fmt.Errorf("unexpected payload %T for %s write", req.Data, req.Type)
			break
		}
		_, err = c.db.NamedExecContext(ctx, `
			INSERT INTO tool_executions (id, query_id, sequence, tool_name, input_args, output, success, error, duration_ms, created_at)
			VALUES (:id, :query_id, :sequence, :tool_name, :input_args, :output, :success, :error, :duration_ms, :created_at)`,
			row)
	default:
		err = fmt.Errorf("unknown write type %d", req.Type)
	}

	if err != nil {
		c.logger.Error("async write failed",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
	if req.Callback != nil {
		req.Callback(err)
	}
}

// Close stops the workers, drains the queue, and closes the pool.
func (c *Client) Close() error {
	close(c.stopCh)
	c.workerWg.Wait()
	return c.db.Close()
}
