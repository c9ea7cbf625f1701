package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"ipmarket/cmd/internal/passphrase"
	"ipmarket/crypto"
)

const keystorePassEnv = "IPMARKET_KEYSTORE_PASS"

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("IPMARKET_RPC_TOKEN")

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("RPC_URL")); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an output key file.")
			return
		}
		generateKey(args[1])
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			return
		}
		call("market_getBalance", map[string]string{"address": args[1]}, false)
	case "create-listing":
		if len(args) < 6 {
			fmt.Println("Usage: create-listing <keyfile> <ipType> <title> <descriptionHandle> <price> [detailsHandle]")
			return
		}
		params := map[string]string{
			"caller":               callerAddress(args[1]),
			"ipType":               args[2],
			"title":                args[3],
			"encryptedDescription": args[4],
			"price":                args[5],
		}
		if len(args) > 6 {
			params["encryptedDetails"] = args[6]
		}
		call("market_createListing", params, true)
	case "cancel-listing":
		if len(args) < 3 {
			fmt.Println("Usage: cancel-listing <keyfile> <listingId>")
			return
		}
		call("market_cancelListing", map[string]interface{}{
			"caller": callerAddress(args[1]), "id": parseID(args[2]),
		}, true)
	case "create-interest":
		if len(args) < 5 {
			fmt.Println("Usage: create-interest <keyfile> <category> <interestsHandle> <maxPrice> [criteriaHandle]")
			return
		}
		params := map[string]string{
			"caller":             callerAddress(args[1]),
			"category":           args[2],
			"encryptedInterests": args[3],
			"maxPrice":           args[4],
		}
		if len(args) > 5 {
			params["encryptedCriteria"] = args[5]
		}
		call("market_createInterest", params, true)
	case "deactivate-interest":
		if len(args) < 3 {
			fmt.Println("Usage: deactivate-interest <keyfile> <interestId>")
			return
		}
		call("market_deactivateInterest", map[string]interface{}{
			"caller": callerAddress(args[1]), "id": parseID(args[2]),
		}, true)
	case "propose-deal":
		if len(args) < 5 {
			fmt.Println("Usage: propose-deal <keyfile> <listingId> <interestId> <price> [sellerDataHandle] [buyerDataHandle]")
			return
		}
		params := map[string]interface{}{
			"caller":     callerAddress(args[1]),
			"listingId":  parseID(args[2]),
			"interestId": parseID(args[3]),
			"price":      args[4],
		}
		if len(args) > 5 {
			params["encryptedSellerData"] = args[5]
		}
		if len(args) > 6 {
			params["encryptedBuyerData"] = args[6]
		}
		call("market_proposeDeal", params, true)
	case "accept-deal":
		if len(args) < 3 {
			fmt.Println("Usage: accept-deal <keyfile> <dealId>")
			return
		}
		call("market_acceptDeal", map[string]interface{}{
			"caller": callerAddress(args[1]), "id": parseID(args[2]),
		}, true)
	case "complete-deal":
		if len(args) < 4 {
			fmt.Println("Usage: complete-deal <keyfile> <dealId> <payment>")
			return
		}
		call("market_completeDeal", map[string]interface{}{
			"caller": callerAddress(args[1]), "id": parseID(args[2]), "payment": args[3],
		}, true)
	case "mint":
		if len(args) < 3 {
			fmt.Println("Usage: mint <address> <amount>")
			return
		}
		call("market_mint", map[string]string{"address": args[1], "amount": args[2]}, true)
	case "get-listing":
		if len(args) < 2 {
			fmt.Println("Usage: get-listing <listingId>")
			return
		}
		call("market_getListing", map[string]interface{}{"id": parseID(args[1])}, false)
	case "get-deal":
		if len(args) < 2 {
			fmt.Println("Usage: get-deal <dealId>")
			return
		}
		call("market_getDeal", map[string]interface{}{"id": parseID(args[1])}, false)
	case "active-listings":
		params := map[string]interface{}{}
		if len(args) > 1 {
			params["limit"] = parseID(args[1])
		}
		call("market_getActiveListings", params, false)
	case "my-listings":
		if len(args) < 2 {
			fmt.Println("Usage: my-listings <address>")
			return
		}
		call("market_getSellerListings", map[string]string{"address": args[1]}, false)
	case "my-interests":
		if len(args) < 2 {
			fmt.Println("Usage: my-interests <address>")
			return
		}
		call("market_getBuyerInterests", map[string]string{"address": args[1]}, false)
	case "my-deals":
		if len(args) < 2 {
			fmt.Println("Usage: my-deals <address>")
			return
		}
		call("market_getUserDeals", map[string]string{"address": args[1]}, false)
	case "events":
		params := map[string]interface{}{}
		if len(args) > 1 {
			params["prefix"] = args[1]
		}
		call("market_listEvents", params, false)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func applyGlobalFlags(args []string) ([]string, error) {
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a value")
			}
			i++
			rpcEndpoint = args[i]
		case strings.HasPrefix(args[i], "--rpc="):
			rpcEndpoint = strings.TrimPrefix(args[i], "--rpc=")
		default:
			remaining = append(remaining, args[i])
		}
	}
	return remaining, nil
}

func generateKey(path string) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	pass, err := passphrase.NewSource(keystorePassEnv).Get()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		fmt.Printf("Error saving keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated key saved to %s\n", path)
	fmt.Printf("Address: %s\n", key.PubKey().Address().String())
}

func callerAddress(keyFile string) string {
	pass, err := passphrase.NewSource(keystorePassEnv).Get()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	key, err := crypto.LoadFromKeystore(keyFile, pass)
	if err != nil {
		fmt.Printf("Error loading keystore %s: %v\n", keyFile, err)
		os.Exit(1)
	}
	return key.PubKey().Address().String()
}

func parseID(raw string) uint64 {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		fmt.Printf("Error: invalid id %q\n", raw)
		os.Exit(1)
	}
	return id
}

func call(method string, params interface{}, authenticated bool) {
	encoded, err := json.Marshal(params)
	if err != nil {
		fmt.Printf("Error encoding params: %v\n", err)
		os.Exit(1)
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []json.RawMessage{encoded},
	})
	if err != nil {
		fmt.Printf("Error encoding request: %v\n", err)
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		fmt.Printf("Error building request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if authenticated {
		if strings.TrimSpace(rpcAuthToken) == "" {
			fmt.Fprintln(os.Stderr, "Error: IPMARKET_RPC_TOKEN must be set for this command")
			os.Exit(1)
		}
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error calling %s: %v\n", method, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		os.Exit(1)
	}
	if decoded.Error != nil {
		fmt.Printf("RPC error %d: %s\n", decoded.Error.Code, decoded.Error.Message)
		os.Exit(1)
	}
	pretty := bytes.Buffer{}
	if err := json.Indent(&pretty, decoded.Result, "", "  "); err != nil {
		fmt.Println(string(decoded.Result))
		return
	}
	fmt.Println(pretty.String())
}

func printUsage() {
	fmt.Println(`Usage: ipm-cli [--rpc <endpoint>] <command> [args]

Key management:
  generate-key <file>                  Generate a key and save it as an encrypted keystore

Seller commands:
  create-listing <keyfile> <ipType> <title> <descHandle> <price> [detailsHandle]
  cancel-listing <keyfile> <listingId>
  propose-deal <keyfile> <listingId> <interestId> <price> [sellerDataHandle] [buyerDataHandle]

Buyer commands:
  create-interest <keyfile> <category> <interestsHandle> <maxPrice> [criteriaHandle]
  deactivate-interest <keyfile> <interestId>
  accept-deal <keyfile> <dealId>
  complete-deal <keyfile> <dealId> <payment>

Queries:
  balance <address>
  get-listing <listingId>
  get-deal <dealId>
  active-listings [limit]
  my-listings <address>
  my-interests <address>
  my-deals <address>
  events [prefix]

Administration:
  mint <address> <amount>

Environment:
  RPC_URL                  RPC endpoint (default http://localhost:8080)
  IPMARKET_RPC_TOKEN       Bearer token for mutating commands
  IPMARKET_KEYSTORE_PASS   Keystore passphrase (prompted when unset)`)
}
