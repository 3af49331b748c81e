// Command token mints an access token for a calling service or an operator.
//
//	JWT_ACCESS_SECRET=... JWT_ACCESS_EXPIRY=720h go run ./cmd/token -sub booking-app -role SERVICE
package main

import (
	"flag"
	"fmt"
	"log"

	"paybridge/config"
	"paybridge/internal/auth"
	"paybridge/internal/domain"
)

func main() {
	sub := flag.String("sub", "", "subject, e.g. the calling service name")
	role := flag.String("role", domain.RoleService, "SERVICE or ADMIN")
	flag.Parse()
	if *sub == "" {
		log.Fatal("-sub is required")
	}
	if *role != domain.RoleService && *role != domain.RoleAdmin {
		log.Fatalf("unknown role %q", *role)
	}
	cfg := config.Load()
	tok, err := auth.GenerateAccessToken(&cfg.JWT, *sub, *role)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Println(tok)
}
