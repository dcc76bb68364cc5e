package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"anchor-platform/internal/config"
	"anchor-platform/internal/server"
)

const (
	usdc = "stellar:USDC:GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"
	usd  = "iso4217:USD"

	distributionAccount = "GBN4NNCDGJO4XW4KQU3CBIESUJWFVBUZPOKUZHT7W7WRB7CWOA7BXVQF"
)

type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer testcontainers.Container
	serverInstance    *server.Server
	baseURL           string
	client            *http.Client
	rpcID             int
}

func (suite *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	containerReq := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "anchor_platform",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: containerReq,
		Started:          true,
	})
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %s", err)
	}
	suite.postgresContainer = postgresContainer

	if err := suite.startApplicationServer(ctx); err != nil {
		suite.T().Fatalf("Failed to start application server: %s", err)
	}

	suite.client = &http.Client{
		Timeout: 30 * time.Second,
	}
}

func (suite *IntegrationTestSuite) startApplicationServer(ctx context.Context) error {
	host, err := suite.postgresContainer.Host(ctx)
	if err != nil {
		return err
	}
	mappedPort, err := suite.postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		return err
	}

	assetsFile := filepath.Join(suite.T().TempDir(), "assets.yaml")
	assets := fmt.Sprintf("assets:\n  - id: %s\n    significant_decimals: 7\n  - id: %s\n    significant_decimals: 2\n", usdc, usd)
	if err := os.WriteFile(assetsFile, []byte(assets), 0o600); err != nil {
		return err
	}

	cfg := config.Load()
	cfg.DBHost = host
	cfg.DBPort = mappedPort.Port()
	cfg.DBUser = "postgres"
	cfg.DBPassword = "password"
	cfg.DBName = "anchor_platform"
	cfg.StorageDriver = config.StorageDriverPostgres
	cfg.LockBackend = config.LockBackendLocal
	cfg.CustodyEnabled = false
	cfg.ServerPort = "0" // Let OS choose a free port
	cfg.DistributionAccount = distributionAccount
	cfg.AssetsFile = assetsFile

	serverInstance, port, err := server.StartServer(cfg)
	if err != nil {
		return err
	}

	suite.serverInstance = serverInstance
	suite.baseURL = "http://localhost:" + port

	return suite.waitForServerReady()
}

func (suite *IntegrationTestSuite) waitForServerReady() error {
	timeout := 30 * time.Second
	start := time.Now()

	for time.Since(start) < timeout {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.serverInstance != nil {
		suite.serverInstance.Stop(ctx)
	}

	if suite.postgresContainer != nil {
		suite.postgresContainer.Terminate(ctx)
	}
}

func (suite *IntegrationTestSuite) post(path string, payload any) (int, []byte) {
	body, err := json.Marshal(payload)
	suite.Require().NoError(err)

	resp, err := suite.client.Post(suite.baseURL+path, "application/json", bytes.NewReader(body))
	suite.Require().NoError(err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	suite.Require().NoError(err)
	return resp.StatusCode, respBody
}

func (suite *IntegrationTestSuite) getTransaction(id string) map[string]any {
	resp, err := suite.client.Get(suite.baseURL + "/transactions/" + id)
	suite.Require().NoError(err)
	defer resp.Body.Close()
	suite.Require().Equal(http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data map[string]any `json:"data"`
	}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Data
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result map[string]any  `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call sends one JSON-RPC action and returns its single response.
func (suite *IntegrationTestSuite) call(method string, params map[string]any) rpcResponse {
	suite.rpcID++
	status, body := suite.post("/actions", map[string]any{
		"jsonrpc": "2.0",
		"id":      suite.rpcID,
		"method":  method,
		"params":  params,
	})
	suite.Require().Equal(http.StatusOK, status, string(body))

	var resps []rpcResponse
	suite.Require().NoError(json.Unmarshal(body, &resps), string(body))
	suite.Require().Len(resps, 1)
	suite.T().Logf("%s: %s", method, body)
	return resps[0]
}

func (suite *IntegrationTestSuite) assertDecimalEqual(expected string, actual any) {
	s, ok := actual.(string)
	suite.Require().True(ok, "expected a decimal string, got %v", actual)
	assert.True(suite.T(), decimal.RequireFromString(expected).Equal(decimal.RequireFromString(s)),
		"Decimal values not equal: expected %s, got %s", expected, s)
}

func (suite *IntegrationTestSuite) stepHealthCheck() {
	resp, err := suite.client.Get(suite.baseURL + "/health")
	suite.Require().NoError(err)
	defer resp.Body.Close()
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)

	var healthResp map[string]any
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&healthResp))
	assert.Equal(suite.T(), "healthy", healthResp["status"])
}

func (suite *IntegrationTestSuite) stepWithdrawalLifecycle() {
	status, body := suite.post("/transactions", map[string]any{
		"sep":              "sep24",
		"kind":             "withdrawal",
		"amount_in_asset":  usdc,
		"amount_out_asset": usd,
	})
	suite.Require().Equal(http.StatusCreated, status, string(body))

	var created struct {
		Data map[string]any `json:"data"`
	}
	suite.Require().NoError(json.Unmarshal(body, &created))
	id := created.Data["id"].(string)
	assert.Equal(suite.T(), "incomplete", created.Data["status"])

	resp := suite.call("notify_interactive_flow_completed", map[string]any{
		"transaction_id": id,
		"amount_in":      map[string]string{"amount": "100", "asset": usdc},
		"amount_out":     map[string]string{"amount": "99", "asset": usd},
		"amount_fee":     map[string]string{"amount": "1", "asset": usdc},
	})
	suite.Require().Nil(resp.Error)
	assert.Equal(suite.T(), "pending_anchor", resp.Result["status"])

	resp = suite.call("request_onchain_funds", map[string]any{"transaction_id": id})
	suite.Require().Nil(resp.Error)
	assert.Equal(suite.T(), "pending_user_transfer_start", resp.Result["status"])
	assert.Equal(suite.T(), distributionAccount, resp.Result["withdraw_anchor_account"])
	assert.Equal(suite.T(), "id", resp.Result["memo_type"])
	assert.NotEmpty(suite.T(), resp.Result["memo"])

	resp = suite.call("notify_onchain_funds_received", map[string]any{
		"transaction_id":         id,
		"stellar_transaction_id": "0a1b2c3d",
	})
	suite.Require().Nil(resp.Error)
	assert.Equal(suite.T(), "pending_anchor", resp.Result["status"])

	resp = suite.call("notify_offchain_funds_sent", map[string]any{
		"transaction_id":          id,
		"external_transaction_id": "wire-42",
	})
	suite.Require().Nil(resp.Error)
	assert.Equal(suite.T(), "completed", resp.Result["status"])

	// Terminal transactions reject further actions and stay unchanged.
	resp = suite.call("notify_transaction_expired", map[string]any{
		"transaction_id": id,
		"message":        "too late",
	})
	suite.Require().NotNil(resp.Error)
	assert.Equal(suite.T(), -32002, resp.Error.Code)

	stored := suite.getTransaction(id)
	assert.Equal(suite.T(), "completed", stored["status"])
	assert.NotEmpty(suite.T(), stored["completed_at"])
	assert.Equal(suite.T(), "wire-42", stored["external_transaction_id"])
	suite.assertDecimalEqual("100", stored["amount_in"])
	suite.assertDecimalEqual("1", stored["amount_fee"])
}

func (suite *IntegrationTestSuite) stepBatchIsolation() {
	status, body := suite.post("/transactions", map[string]any{
		"sep":             "sep24",
		"kind":            "deposit",
		"amount_in":       "25",
		"amount_in_asset": usd,
	})
	suite.Require().Equal(http.StatusCreated, status, string(body))
	var created struct {
		Data map[string]any `json:"data"`
	}
	suite.Require().NoError(json.Unmarshal(body, &created))
	id := created.Data["id"].(string)

	status, body = suite.post("/actions", []map[string]any{
		{"jsonrpc": "2.0", "id": "a", "method": "notify_transaction_error", "params": map[string]any{"transaction_id": id, "message": "kyc failed"}},
		{"jsonrpc": "2.0", "id": "b", "method": "notify_transaction_expired", "params": map[string]any{"transaction_id": "not-a-uuid", "message": "x"}},
		{"jsonrpc": "2.0", "id": "c", "method": "unknown_method", "params": map[string]any{}},
	})
	suite.Require().Equal(http.StatusOK, status)

	var resps []rpcResponse
	suite.Require().NoError(json.Unmarshal(body, &resps))
	suite.Require().Len(resps, 3)
	assert.Nil(suite.T(), resps[0].Error)
	assert.Equal(suite.T(), "error", resps[0].Result["status"])
	suite.Require().NotNil(resps[1].Error)
	assert.Equal(suite.T(), -32602, resps[1].Error.Code)
	suite.Require().NotNil(resps[2].Error)
	assert.Equal(suite.T(), -32601, resps[2].Error.Code)
}

func (suite *IntegrationTestSuite) stepTransactionNotFound() {
	resp, err := suite.client.Get(suite.baseURL + "/transactions/5f0c3c1e-7d0b-4f5e-9b8a-1a2b3c4d5e6f")
	suite.Require().NoError(err)
	defer resp.Body.Close()
	assert.Equal(suite.T(), http.StatusNotFound, resp.StatusCode)

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(suite.T(), "transaction_not_found", envelope.Error.Code)
}

func (suite *IntegrationTestSuite) TestFlow() {
	suite.stepHealthCheck()
	suite.stepWithdrawalLifecycle()
	suite.stepBatchIsolation()
	suite.stepTransactionNotFound()
}

func TestIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
