package main

import (
	"fmt"
	"log"
	"os"

	"betweenus/backend/internal/account"
	"betweenus/backend/internal/binding"
	"betweenus/backend/internal/config"
	"betweenus/backend/internal/localization"
	"betweenus/backend/internal/storage"
)

func usage() {
	fmt.Println("Usage: admin <command> [args]")
	fmt.Println("  finalize-unbinds                   complete unbinds whose cool-down has passed")
	fmt.Println("  reset-password <phone> <password>  set a new password")
	fmt.Println("  show-user <phone>                  print an account")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.Load()
	store, err := storage.Open(cfg)
	if err != nil {
		log.Fatalf("failed to open %s storage: %v", cfg.StorageBackend, err)
	}
	defer store.Close()

	accounts := account.NewService(store)

	switch os.Args[1] {
	case "finalize-unbinds":
		l, err := localization.Default(cfg.DefaultLang)
		if err != nil {
			log.Fatalf("failed to load messages: %v", err)
		}
		n, err := binding.NewService(store, l, cfg.DefaultLang).FinalizeExpired()
		if err != nil {
			log.Fatalf("Error finalizing unbinds: %v", err)
		}
		fmt.Printf("%d unbind(s) finalized.\n", n)

	case "reset-password":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin reset-password <phone> <password>")
			os.Exit(1)
		}
		if err := accounts.ResetPassword(os.Args[2], os.Args[3]); err != nil {
			log.Fatalf("Error resetting password: %v", err)
		}
		fmt.Printf("Password of %s has been reset.\n", os.Args[2])

	case "show-user":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin show-user <phone>")
			os.Exit(1)
		}
		if err := showUser(accounts, os.Args[2]); err != nil {
			log.Fatalf("Error loading user: %v", err)
		}

	default:
		fmt.Println("Unknown command")
		usage()
	}
}

func showUser(accounts *account.Service, phone string) error {
	user, err := accounts.GetUserByPhone(phone)
	if err != nil {
		return err
	}
	fmt.Printf("id:        %d\n", user.ID)
	fmt.Printf("phone:     %s\n", user.Phone)
	fmt.Printf("nickname:  %s\n", user.Nickname)
	if user.BindingCode != nil {
		fmt.Printf("code:      %s\n", *user.BindingCode)
	}
	if user.HasPartner() {
		fmt.Printf("partner:   %d\n", *user.PartnerID)
	}
	if user.UnbindAt != nil {
		state := "unbinding"
		if !user.HasPartner() {
			state = "unbound"
		}
		fmt.Printf("%-10s since %s\n", state+":", user.UnbindAt.Format("2006-01-02 15:04"))
	}
	return nil
}
